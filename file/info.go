// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package file

import (
	"time"
)

// Info represents file metadata.
type Info interface {
	// Path returns the full path of the file, in the same form as the path
	// given to Open or Stat (including any scheme prefix).
	Path() string
	// Size returns the length of the file in bytes for regular files;
	// system-dependent for others.
	Size() int64
	// ModTime returns the modification time for regular files;
	// system-dependent for others.
	ModTime() time.Time
	// CreatedTime returns the creation time where the backend records one.
	// Backends without a creation time report ModTime.
	CreatedTime() time.Time
	// IsDir returns true if the object is a directory.
	IsDir() bool
}
