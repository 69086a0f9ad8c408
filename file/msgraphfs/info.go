// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/graphdrive/base/errors"
)

// driveItem is the service's metadata record for a file or directory. The
// type of an item is carried by mutually exclusive facet objects, not by a
// type field: a record with a folder facet is a directory, one with a file
// facet is a regular file.
type driveItem struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Size                 int64          `json:"size"`
	CreatedDateTime      string         `json:"createdDateTime"`
	LastModifiedDateTime string         `json:"lastModifiedDateTime"`
	Folder               *folderFacet   `json:"folder,omitempty"`
	File                 *fileFacet     `json:"file,omitempty"`
	ParentReference      *itemReference `json:"parentReference,omitempty"`

	raw json.RawMessage
}

type folderFacet struct {
	ChildCount int64 `json:"childCount"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

type itemReference struct {
	DriveID string `json:"driveId,omitempty"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Path    string `json:"path,omitempty"`
}

func decodeItem(data []byte) (*driveItem, error) {
	it := &driveItem{}
	if err := json.Unmarshal(data, it); err != nil {
		return nil, errors.E(errors.Invalid, "malformed item metadata", err)
	}
	it.raw = append(json.RawMessage(nil), data...)
	return it, nil
}

// drivePath reconstructs the item's drive-relative path from its parent
// reference. The parent path embeds addressing syntax ("...root:/dir");
// everything through the root marker is discarded.
func (it *driveItem) drivePath() string {
	if it.ParentReference == nil || it.ParentReference.Path == "" {
		if it.Name == "" || it.Name == "root" {
			return ""
		}
		return "/" + it.Name
	}
	parent := it.ParentReference.Path
	if i := strings.Index(parent, "root:"); i >= 0 {
		parent = parent[i+len("root:"):]
	}
	if parent != "" && !strings.HasPrefix(parent, "/") {
		parent = "/" + parent
	}
	return parent + "/" + it.Name
}

// Kind describes what an item is.
type Kind int

const (
	// KindOther marks records with neither a file nor a folder facet.
	KindOther Kind = iota
	// KindFile marks regular files.
	KindFile
	// KindDirectory marks directories.
	KindDirectory
)

func (it *driveItem) kind() Kind {
	switch {
	case it.Folder != nil:
		return KindDirectory
	case it.File != nil:
		return KindFile
	}
	return KindOther
}

// epoch is the timestamp reported for items whose metadata omits one or
// carries one that does not parse.
var epoch = time.Unix(0, 0).UTC()

func parseItemTime(s string) time.Time {
	if s == "" {
		return epoch
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return epoch
	}
	return t
}

// Info implements file.Info for items of a remote drive. Beyond the generic
// interface it exposes the item kind, the reported MIME type, and the raw
// metadata record for callers that need service-specific fields.
type Info struct {
	path        string
	size        int64
	kind        Kind
	modTime     time.Time
	createdTime time.Time
	mimeType    string
	raw         json.RawMessage
}

// Path implements file.Info.
func (i *Info) Path() string { return i.path }

// Size implements file.Info.
func (i *Info) Size() int64 { return i.size }

// ModTime implements file.Info.
func (i *Info) ModTime() time.Time { return i.modTime }

// CreatedTime implements file.Info.
func (i *Info) CreatedTime() time.Time { return i.createdTime }

// IsDir implements file.Info.
func (i *Info) IsDir() bool { return i.kind == KindDirectory }

// Kind returns the item kind.
func (i *Info) Kind() Kind { return i.kind }

// MimeType returns the MIME type the service reports for regular files, or
// "" when the service reports none.
func (i *Info) MimeType() string { return i.mimeType }

// RawMetadata returns the unmodified metadata record the service returned
// for this item. The mapping from record to Info is lossless in the sense
// that the full record stays available here.
func (i *Info) RawMetadata() json.RawMessage { return i.raw }

// newInfo maps a metadata record to an Info. The same record always maps to
// the same Info.
func newInfo(scheme string, it *driveItem) *Info {
	info := &Info{
		path:        extPath(scheme, it.drivePath()),
		size:        it.Size,
		kind:        it.kind(),
		modTime:     parseItemTime(it.LastModifiedDateTime),
		createdTime: parseItemTime(it.CreatedDateTime),
		raw:         it.raw,
	}
	if it.File != nil {
		info.mimeType = it.File.MimeType
	}
	return info
}
