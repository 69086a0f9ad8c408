// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// A Copier is an Implementation that can copy an object within its own
// namespace without moving the bytes through the client, e.g. through a
// server-side copy operation.
type Copier interface {
	Copy(ctx context.Context, src, dst string) error
}

// A RecursiveRemover is an Implementation that can remove a directory tree
// in one backend operation.
type RecursiveRemover interface {
	RemoveAll(ctx context.Context, path string) error
}

// ReadFile reads the given file and returns the contents. A successful call
// returns err == nil, not err == EOF. Arg opts is passed to file.Open.
func ReadFile(ctx context.Context, path string, opts ...Opts) ([]byte, error) {
	in, err := Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Reader(ctx))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}
	return data, in.Close(ctx)
}

// WriteFile writes data to the given file. If the file does not exist,
// WriteFile creates it; otherwise WriteFile truncates it before writing.
func WriteFile(ctx context.Context, path string, data []byte) error {
	out, err := Create(ctx, path)
	if err != nil {
		return err
	}
	n, err := out.Writer(ctx).Write(data)
	if n != len(data) && err == nil {
		err = fmt.Errorf("writefile %s: requested to write %d bytes, actually wrote %d bytes", path, len(data), n)
	}
	if err != nil {
		out.Close(ctx) // nolint: errcheck
		return err
	}
	return out.Close(ctx)
}

// CopyFile copies the regular file src to dst by reading src in full and
// writing dst. The two paths may belong to different implementations.
func CopyFile(ctx context.Context, src, dst string) error {
	in, err := Open(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close(ctx) // nolint: errcheck
	out, err := Create(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out.Writer(ctx), in.Reader(ctx)); err != nil {
		out.Discard(ctx) // nolint: errcheck
		return fmt.Errorf("copy %v->%v: %w", src, dst, err)
	}
	return out.Close(ctx)
}

// Copy copies src to dst. When both paths belong to the same Implementation
// and the implementation supports server-side copies, the bytes never move
// through this process; otherwise Copy falls back to CopyFile.
func Copy(ctx context.Context, src, dst string) error {
	srcImpl, err := findImpl(src)
	if err != nil {
		return err
	}
	dstImpl, err := findImpl(dst)
	if err != nil {
		return err
	}
	if srcImpl == dstImpl {
		if copier, ok := srcImpl.(Copier); ok {
			return copier.Copy(ctx, src, dst)
		}
	}
	return CopyFile(ctx, src, dst)
}

// RemoveAll removes path and any children it contains. Implementations that
// support one-shot recursive removal are used directly; otherwise every
// regular file under path is removed in parallel. It is unspecified whether
// empty directories are removed by the fallback. If the path does not
// exist, RemoveAll returns nil.
func RemoveAll(ctx context.Context, path string) error {
	impl, err := findImpl(path)
	if err != nil {
		return err
	}
	if rm, ok := impl.(RecursiveRemover); ok {
		return rm.RemoveAll(ctx, path)
	}
	g, ectx := errgroup.WithContext(ctx)
	l := List(ectx, path, true)
	for l.Scan() {
		if !l.IsDir() {
			path := l.Path()
			g.Go(func() error { return Remove(ectx, path) })
		}
	}
	return g.Wait()
}
