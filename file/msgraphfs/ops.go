// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

// Open implements file.Implementation. Without Opts.SizeHint, Open fetches
// the object's metadata up front, so a missing file is reported here rather
// than at first read. A positive SizeHint skips that probe.
func (impl *graphImpl) Open(ctx context.Context, path string, opts ...file.Opts) (file.File, error) {
	scheme, drivePath, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	o, err := impl.mergeOpts(opts)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	f := &graphFile{
		impl:      impl,
		name:      path,
		mode:      readonly,
		opts:      o,
		drivePath: drivePath,
		scheme:    scheme,
		reqCh:     make(chan request, 16),
	}
	if o.SizeHint > 0 {
		f.size = o.SizeHint
	} else {
		if err := f.fillInfo(ctx); err != nil {
			return nil, err
		}
		if f.info.IsDir() {
			return nil, errors.E(errors.NotSupported, path, "cannot open a directory for reading")
		}
	}
	go f.handleRequests()
	return f, nil
}

// Create implements file.Implementation. With Opts.Append set and an
// existing object at path, writes continue from the current end of the
// object; otherwise the object is replaced.
func (impl *graphImpl) Create(ctx context.Context, path string, opts ...file.Opts) (file.File, error) {
	scheme, drivePath, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if drivePath == "" {
		return nil, errors.E(errors.Invalid, path, "cannot create the drive root")
	}
	o, err := impl.mergeOpts(opts)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	var (
		itemID     string
		appendBase int64
		appendMode bool
	)
	if o.Append {
		// Appending to a missing object degrades to a plain create.
		it, err := impl.getItem(ctx, drivePath, path)
		if err != nil && !errors.Is(errors.NotExist, err) {
			return nil, err
		}
		if it != nil && err == nil {
			itemID = it.ID
			appendBase = it.Size
			appendMode = true
		}
	}
	f := &graphFile{
		impl:      impl,
		name:      path,
		mode:      writeonly,
		opts:      o,
		drivePath: drivePath,
		scheme:    scheme,
		reqCh:     make(chan request, 16),
		uploader:  newUploader(impl, drivePath, path, o.BlockSize, itemID, appendMode, appendBase),
	}
	go f.handleRequests()
	return f, nil
}

// Stat implements file.Implementation.
func (impl *graphImpl) Stat(ctx context.Context, path string, opts ...file.Opts) (file.Info, error) {
	scheme, drivePath, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	it, err := impl.getItem(ctx, drivePath, path)
	if err != nil {
		return nil, err
	}
	return newInfo(scheme, it), nil
}

// Remove implements file.Implementation. Removing a non-empty directory is
// refused with errors.NotEmpty; RemoveAll removes trees.
func (impl *graphImpl) Remove(ctx context.Context, path string) error {
	scheme, drivePath, err := parsePath(path)
	if err != nil {
		return err
	}
	it, err := impl.getItem(ctx, drivePath, path)
	if err != nil {
		return err
	}
	if it.Folder != nil {
		children, err := impl.listDir(ctx, scheme, drivePath, path)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return errors.E(errors.NotEmpty, path, "directory is not empty")
		}
	}
	if _, err := impl.callBytes(ctx, http.MethodDelete, impl.itemURL(drivePath, it.ID, ""), path, nil, nil); err != nil {
		return err
	}
	impl.invalidateListings(drivePath)
	return nil
}

// RemoveAll implements file.RecursiveRemover: the service removes an item
// and everything below it in one call, so a tree costs one request. A
// missing path is not an error.
func (impl *graphImpl) RemoveAll(ctx context.Context, path string) error {
	_, drivePath, err := parsePath(path)
	if err != nil {
		return err
	}
	id, err := impl.getItemID(ctx, drivePath, path, false)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if _, err := impl.callBytes(ctx, http.MethodDelete, impl.itemURL(drivePath, id, ""), path, nil, nil); err != nil {
		return err
	}
	impl.invalidateListings(drivePath)
	return nil
}

// Mkdir implements file.Implementation.
func (impl *graphImpl) Mkdir(ctx context.Context, path string, createParents, existOK bool) error {
	_, drivePath, err := parsePath(path)
	if err != nil {
		return err
	}
	if drivePath == "" {
		// The drive root always exists.
		if existOK {
			return nil
		}
		return errors.E(errors.Exists, path, "object already exists")
	}
	return impl.mkdir(ctx, drivePath, path, createParents, existOK)
}

func (impl *graphImpl) mkdir(ctx context.Context, drivePath, name string, createParents, existOK bool) error {
	parent, base := split(drivePath)
	parentID, err := impl.getItemID(ctx, parent, file.Dir(name), false)
	if err != nil {
		return err
	}
	if parentID == "" {
		if !createParents {
			return errors.E(errors.NotExist, file.Dir(name), "parent directory does not exist")
		}
		if err := impl.mkdir(ctx, parent, file.Dir(name), true, true); err != nil {
			return err
		}
		if parentID, err = impl.getItemID(ctx, parent, file.Dir(name), true); err != nil {
			return err
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"name":                              base,
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": "fail",
	})
	if err != nil {
		return err
	}
	target := impl.itemURL(parent, parentID, "children")
	if _, err := impl.callBytes(ctx, http.MethodPost, target, name, body, jsonHeader); err != nil {
		if existOK && errors.Is(errors.Exists, err) {
			return nil
		}
		return err
	}
	impl.invalidateListings(drivePath)
	return nil
}

// Touch implements file.Implementation.
func (impl *graphImpl) Touch(ctx context.Context, path string, truncate bool) error {
	_, drivePath, err := parsePath(path)
	if err != nil {
		return err
	}
	if drivePath == "" {
		return errors.E(errors.Invalid, path, "cannot touch the drive root")
	}
	return impl.touch(ctx, drivePath, path, truncate)
}

// touch creates an empty object when none exists. For an existing object,
// the content is replaced when truncate is set, else only the modification
// time is refreshed through a metadata update.
func (impl *graphImpl) touch(ctx context.Context, drivePath, name string, truncate bool) error {
	id, err := impl.getItemID(ctx, drivePath, name, false)
	if err != nil {
		return err
	}
	if id != "" && !truncate {
		body, err := json.Marshal(map[string]string{
			"lastModifiedDateTime": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		target := impl.itemURL(drivePath, id, "")
		if _, err := impl.callBytes(ctx, http.MethodPatch, target, name, body, jsonHeader); err != nil {
			return err
		}
		impl.invalidateListings(drivePath)
		return nil
	}
	if id == "" {
		parent, base := split(drivePath)
		parentID, err := impl.getItemID(ctx, parent, file.Dir(name), true)
		if err != nil {
			return err
		}
		id = childItemID(parentID, base)
	}
	target := impl.itemURL(drivePath, id, "content")
	header := http.Header{"Content-Type": []string{"application/octet-stream"}}
	if _, err := impl.callBytes(ctx, http.MethodPut, target, name, []byte{}, header); err != nil {
		return err
	}
	impl.invalidateListings(drivePath)
	return nil
}

// Copy implements file.Copier: the bytes are copied inside the service
// without moving through this process. The destination parent must exist.
func (impl *graphImpl) Copy(ctx context.Context, src, dst string) error {
	_, srcDrive, err := parsePath(src)
	if err != nil {
		return err
	}
	_, dstDrive, err := parsePath(dst)
	if err != nil {
		return err
	}
	srcID, err := impl.getItemID(ctx, srcDrive, src, true)
	if err != nil {
		return err
	}
	dstParent, dstName := split(dstDrive)
	ref, err := impl.getItemReference(ctx, dstParent, file.Dir(dst))
	if err != nil {
		return err
	}
	body, err := json.Marshal(struct {
		ParentReference json.RawMessage `json:"parentReference"`
		Name            string          `json:"name"`
	}{ref, dstName})
	if err != nil {
		return err
	}
	target := impl.itemURL(srcDrive, srcID, "copy")
	if _, err := impl.callBytes(ctx, http.MethodPost, target, src, body, jsonHeader); err != nil {
		return err
	}
	impl.invalidateListings(dstDrive)
	return nil
}
