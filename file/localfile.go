// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package file

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/graphdrive/base/errors"
)

// NewLocalImplementation returns an Implementation that accesses the local
// file system. It is the registered handler for paths without a scheme
// prefix.
func NewLocalImplementation() Implementation { return &localImpl{} }

type localImpl struct{}

func (impl *localImpl) String() string { return "local" }

// Open implements Implementation.
func (impl *localImpl) Open(ctx context.Context, path string, opts ...Opts) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	return &localFile{path: path, f: f, readonly: true}, nil
}

// Create implements Implementation. A newly created file is written to a
// temporary file in the destination directory and renamed into place on
// Close, so a crashed or discarded writer never leaves a partial file.
func (impl *localImpl) Create(ctx context.Context, path string, opts ...Opts) (File, error) {
	o := mergeOpts(opts)
	if o.Append {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, errors.E(err, "append", path)
		}
		return &localFile{path: path, f: f}, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, errors.E(err, "create", path)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	return &localFile{path: path, f: f, tmpPath: f.Name()}, nil
}

// Stat implements Implementation.
func (impl *localImpl) Stat(ctx context.Context, path string, opts ...Opts) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.E(err, "stat", path)
	}
	return &localInfo{path: path, fi: fi}, nil
}

// Remove implements Implementation.
func (impl *localImpl) Remove(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		return errors.E(err, "remove", path)
	}
	return nil
}

// Mkdir implements Implementation.
func (impl *localImpl) Mkdir(ctx context.Context, path string, createParents, existOK bool) error {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		if existOK {
			return nil
		}
		return errors.E(errors.Exists, "mkdir", path)
	}
	if createParents {
		if err := os.MkdirAll(path, 0777); err != nil {
			return errors.E(err, "mkdir", path)
		}
		return nil
	}
	if err := os.Mkdir(path, 0777); err != nil {
		return errors.E(err, "mkdir", path)
	}
	return nil
}

// Touch implements Implementation.
func (impl *localImpl) Touch(ctx context.Context, path string, truncate bool) error {
	if _, err := os.Stat(path); err == nil {
		if truncate {
			if err := os.Truncate(path, 0); err != nil {
				return errors.E(err, "touch", path)
			}
		}
		now := time.Now()
		if err := os.Chtimes(path, now, now); err != nil {
			return errors.E(err, "touch", path)
		}
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return errors.E(err, "touch", path)
	}
	return f.Close()
}

// List implements Implementation.
func (impl *localImpl) List(ctx context.Context, dir string, recursive bool) Lister {
	l := &localLister{}
	fi, err := os.Stat(dir)
	switch {
	case err != nil:
		l.err = errors.E(err, "list", dir)
	case !fi.IsDir():
		l.entries = []localEntry{{path: dir, fi: fi}}
	case recursive:
		l.err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			l.entries = append(l.entries, localEntry{path: path, fi: fi})
			return nil
		})
	default:
		ents, err := os.ReadDir(dir)
		if err != nil {
			l.err = errors.E(err, "list", dir)
			break
		}
		for _, e := range ents {
			fi, err := e.Info()
			if err != nil {
				continue
			}
			l.entries = append(l.entries, localEntry{path: filepath.Join(dir, e.Name()), fi: fi})
		}
	}
	return l
}

func mergeOpts(opts []Opts) (o Opts) {
	if len(opts) > 0 {
		o = opts[0]
	}
	return
}

type localFile struct {
	path     string
	tmpPath  string // set for files created through a temporary
	f        *os.File
	readonly bool
}

func (f *localFile) Name() string   { return f.path }
func (f *localFile) String() string { return f.path }

func (f *localFile) Stat(ctx context.Context) (Info, error) {
	if !f.readonly {
		return nil, errors.E(errors.NotSupported, f.path, "stat for writeonly file not supported")
	}
	fi, err := f.f.Stat()
	if err != nil {
		return nil, errors.E(err, "stat", f.path)
	}
	return &localInfo{path: f.path, fi: fi}, nil
}

func (f *localFile) Reader(ctx context.Context) io.ReadSeeker {
	if !f.readonly {
		return NewErrorReader(errors.E(errors.NotSupported, f.path, "file is not opened in read mode"))
	}
	return f.f
}

func (f *localFile) Writer(ctx context.Context) io.Writer {
	if f.readonly {
		return NewErrorWriter(errors.E(errors.NotSupported, f.path, "file is not opened in write mode"))
	}
	return f.f
}

func (f *localFile) Close(ctx context.Context) error {
	err := f.f.Close()
	if err == nil && f.tmpPath != "" {
		err = os.Rename(f.tmpPath, f.path)
	}
	if err != nil {
		return errors.E(err, "close", f.path)
	}
	return nil
}

func (f *localFile) Discard(ctx context.Context) error {
	f.f.Close() // nolint: errcheck
	if f.tmpPath != "" {
		os.Remove(f.tmpPath) // nolint: errcheck
	}
	return nil
}

type localInfo struct {
	path string
	fi   os.FileInfo
}

func (i *localInfo) Path() string           { return i.path }
func (i *localInfo) Size() int64            { return i.fi.Size() }
func (i *localInfo) ModTime() time.Time     { return i.fi.ModTime() }
func (i *localInfo) CreatedTime() time.Time { return i.fi.ModTime() }
func (i *localInfo) IsDir() bool            { return i.fi.IsDir() }

type localEntry struct {
	path string
	fi   os.FileInfo
}

type localLister struct {
	entries []localEntry
	pos     int // 1-based after first Scan
	err     error
}

func (l *localLister) Scan() bool {
	if l.err != nil || l.pos >= len(l.entries) {
		return false
	}
	l.pos++
	return true
}

func (l *localLister) Err() error { return l.err }

func (l *localLister) Path() string { return l.entries[l.pos-1].path }

func (l *localLister) IsDir() bool { return l.entries[l.pos-1].fi.IsDir() }

func (l *localLister) Info() Info {
	e := l.entries[l.pos-1]
	return &localInfo{path: e.path, fi: e.fi}
}
