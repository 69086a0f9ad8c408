// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

// List implements file.Implementation. Directory contents come from the
// listing cache when a fresh entry exists; otherwise the service is paged
// through in full and the result cached.
func (impl *graphImpl) List(ctx context.Context, dir string, recursive bool) file.Lister {
	scheme, drivePath, err := parsePath(dir)
	if err != nil {
		return &graphLister{err: err}
	}
	return &graphLister{
		ctx:       ctx,
		impl:      impl,
		scheme:    scheme,
		recursive: recursive,
		todo:      []string{drivePath},
	}
}

type graphLister struct {
	ctx       context.Context
	impl      *graphImpl
	scheme    string
	recursive bool

	todo    []string // directories whose listings are still pending
	entries []file.Info
	pos     int // 1-based after first Scan
	err     error
}

// Scan implements file.Lister. In recursive mode directories are descended
// into and only regular files are reported, matching the generic Lister
// contract.
func (l *graphLister) Scan() bool {
	for {
		if l.err != nil {
			return false
		}
		if l.pos < len(l.entries) {
			l.pos++
			info := l.entries[l.pos-1]
			if l.recursive && info.IsDir() {
				l.todo = append(l.todo, stripScheme(info.Path()))
				continue
			}
			return true
		}
		if len(l.todo) == 0 {
			return false
		}
		dir := l.todo[0]
		l.todo = l.todo[1:]
		l.entries, l.err = l.impl.listDir(l.ctx, l.scheme, dir, extPath(l.scheme, dir))
		l.pos = 0
	}
}

// Err implements file.Lister.
func (l *graphLister) Err() error { return l.err }

// Path implements file.Lister.
func (l *graphLister) Path() string { return l.entries[l.pos-1].Path() }

// IsDir implements file.Lister.
func (l *graphLister) IsDir() bool { return l.entries[l.pos-1].IsDir() }

// Info implements file.Lister.
func (l *graphLister) Info() file.Info { return l.entries[l.pos-1] }

// listDir returns the direct children of drivePath. An empty result is
// disambiguated with a metadata probe: a regular file lists as itself, an
// empty directory as nothing. Full directory listings are cached; the
// file-as-itself case is not, since it is not a directory listing.
func (impl *graphImpl) listDir(ctx context.Context, scheme, drivePath, name string) ([]file.Info, error) {
	if infos, ok := impl.cachedListing(drivePath); ok {
		return infos, nil
	}
	var infos []file.Info
	target := impl.itemURL(drivePath, "", "children")
	for target != "" {
		data, err := impl.callBytes(ctx, http.MethodGet, target, name, nil, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Value    []json.RawMessage `json:"value"`
			NextLink string            `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, errors.E(errors.Invalid, name, "malformed listing page", err)
		}
		for _, raw := range page.Value {
			it, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			infos = append(infos, newInfo(scheme, it))
		}
		target = page.NextLink
	}
	if len(infos) == 0 {
		it, err := impl.getItem(ctx, drivePath, name)
		switch {
		case err != nil:
			return nil, err
		case it.kind() == KindFile:
			return []file.Info{newInfo(scheme, it)}, nil
		}
	}
	impl.storeListing(drivePath, infos)
	return infos, nil
}
