// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

func testContent(n int) []byte {
	r := rand.New(rand.NewSource(0))
	data := make([]byte, n)
	r.Read(data)
	return data
}

func TestReadSequential(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	want := testContent(2*uploadAlignment + 1234)
	s.addFile("/data.bin", want)
	impl := s.newImpl(Options{})

	f, err := impl.Open(ctx, "shpt://data.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close(ctx) // nolint: errcheck
	r := f.Reader(ctx)

	// Read through a buffer much smaller than a block; the handle must
	// amortize the ranged requests to one per block.
	var got []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read %d bytes, want %d", len(got), len(want))
	}
	if got, want := s.countRequests("GET content"), 3; got != want {
		t.Errorf("ranged requests: got %d, want %d", got, want)
	}
}

func TestSeek(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addFile("/seek.txt", []byte("0123456789"))
	impl := s.newImpl(Options{})

	f, err := impl.Open(ctx, "shpt://seek.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close(ctx) // nolint: errcheck
	r := f.Reader(ctx)

	readAt := func(off int64, whence int) string {
		t.Helper()
		if _, err := r.Seek(off, whence); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 2)
		n, err := r.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		return string(buf[:n])
	}
	if got, want := readAt(4, io.SeekStart), "45"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := readAt(-2, io.SeekEnd), "89"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if _, err := r.Seek(2, io.SeekCurrent); err != nil {
		t.Fatal(err)
	}

	// Illegal seeks leave the position unchanged.
	if _, err := r.Seek(-1, io.SeekStart); !errors.Is(errors.Invalid, err) {
		t.Errorf("negative absolute seek: got %v, want Invalid", err)
	}
	if _, err := r.Seek(-11, io.SeekEnd); !errors.Is(errors.Invalid, err) {
		t.Errorf("seek before start: got %v, want Invalid", err)
	}
	if _, err := r.Seek(0, 42); !errors.Is(errors.Invalid, err) {
		t.Errorf("bad whence: got %v, want Invalid", err)
	}

	// Seeking beyond EOF is legal; the read then reports EOF.
	if _, err := r.Seek(100, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read past EOF: got %v, want EOF", err)
	}
}

func TestOpenMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	impl := s.newImpl(Options{})
	if _, err := impl.Open(ctx, "shpt://nope.txt"); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
}

func TestOpenDirectory(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addDir("/docs")
	impl := s.newImpl(Options{})
	if _, err := impl.Open(ctx, "shpt://docs"); !errors.Is(errors.NotSupported, err) {
		t.Errorf("got %v, want NotSupported", err)
	}
}

func TestOpenWithSizeHint(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	want := testContent(100)
	s.addFile("/hinted.bin", want)
	impl := s.newImpl(Options{})

	f, err := impl.Open(ctx, "shpt://hinted.bin", file.Opts{SizeHint: 100})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close(ctx) // nolint: errcheck
	if got := s.countRequests("GET item"); got != 0 {
		t.Errorf("size hint should skip the metadata probe, saw %d", got)
	}
	got, err := io.ReadAll(f.Reader(ctx))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read %d bytes, want %d", len(got), len(want))
	}
}

func TestHandleStat(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addFile("/dir/f.txt", []byte("abc"))
	impl := s.newImpl(Options{})

	f, err := impl.Open(ctx, "shpt://dir/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close(ctx) // nolint: errcheck
	info, err := f.Stat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Path(), "shpt://dir/f.txt"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := info.Size(), int64(3); got != want {
		t.Errorf("got %d, want %d", got, want)
	}

	w, err := impl.Create(ctx, "shpt://dir/w.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Discard(ctx) // nolint: errcheck
	if _, err := w.Stat(ctx); !errors.Is(errors.NotSupported, err) {
		t.Errorf("stat on writer: got %v, want NotSupported", err)
	}
}
