// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package file provides basic file operations across multiple file-system
// types. It is designed so that a remote drive exposed through an
// item-metadata service can be accessed the same way as a local file
// system. Generic algorithms (tree walks, globbing, bulk copies) are
// layered on top of the narrow Implementation contract defined here and
// never depend on a particular backend.
package file

import (
	"context"
	"io"

	"github.com/graphdrive/base/log"
)

// File defines operations on a file. Implementations must be thread safe.
type File interface {
	// String returns a diagnostic string.
	String() string

	// Name returns the path name given to file.Open or file.Create when this
	// object was created.
	Name() string

	// Stat returns file metadata.
	//
	// REQUIRES: Close has not been called
	Stat(ctx context.Context) (Info, error)

	// Reader creates an io.ReadSeeker object that operates on the file.  If
	// Reader() is called multiple times, they share the seek pointer.
	//
	// REQUIRES: Close has not been called
	Reader(ctx context.Context) io.ReadSeeker

	// Writer creates a writer to the file. If Writer() is called multiple
	// times, they share the write position.
	//
	// REQUIRES: Close has not been called
	Writer(ctx context.Context) io.Writer

	// Discard discards a file before it is closed, relinquishing any
	// temporary resources implied by pending writes. This should be
	// used if the caller decides not to complete writing the file.
	// Discard is a best-effort operation. Discard is not defined for
	// files opened for reading. Exactly one of Discard or Close should
	// be called. No other File, io.ReadSeeker, or io.Writer methods
	// shall be called after Discard.
	Discard(ctx context.Context) error

	// Closer commits the contents of a written file, invalidating the
	// File and all Readers and Writers created from the file. Exactly
	// one of Discard or Close should be called. No other File or
	// io.ReadSeeker, io.Writer methods shall be called after Close.
	Closer
}

// Closer cleans up a resource. Generally, resource provider implementations
// will return a Closer when opening a resource (like File above).
type Closer interface {
	// Close tries to clean up the resource. Implementations can define whether
	// Close can be called more than once and whether callers should retry on error.
	Close(context.Context) error
}

// CloseAndReport closes f and reports an error, if any, to *err. Defer it
// with a named return error to propagate Close failures without clobbering
// an earlier error.
func CloseAndReport(ctx context.Context, f Closer, err *error) {
	err2 := f.Close(ctx)
	if err2 == nil {
		return
	}
	if *err != nil {
		log.Error.Printf("second error on close: %v", err2)
		return
	}
	*err = err2
}

// NewErrorReader returns a new io.ReadSeeker object that returns "err" on any
// operation.
func NewErrorReader(err error) io.ReadSeeker { return &errorReaderWriter{err: err} }

// NewErrorWriter returns a new io.Writer object that returns "err" on any operation.
func NewErrorWriter(err error) io.Writer { return &errorReaderWriter{err: err} }

type errorReaderWriter struct{ err error }

func (r *errorReaderWriter) Read([]byte) (int, error) {
	return -1, r.err
}

func (r *errorReaderWriter) Seek(int64, int) (int64, error) {
	return -1, r.err
}

func (r *errorReaderWriter) Write([]byte) (int, error) {
	return -1, r.err
}
