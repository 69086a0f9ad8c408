// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
	"github.com/graphdrive/base/log"
)

// uploader stages bytes written to one handle and moves them to the
// service. Small writes are held back and sent in one request when the
// handle closes; once a full block has accumulated the uploader switches to
// a resumable session and streams aligned chunks as they fill up. A session
// is created at most once per handle and lazily, so a small file never
// costs a session round trip.
//
// Not thread safe; the owning handle serializes access.
type uploader struct {
	impl      *graphImpl
	drivePath string
	name      string // caller-visible path, for errors
	blockSize int

	// itemID is the resolved ID of an existing object at drivePath, or ""
	// when the object does not exist yet.
	itemID     string
	appendMode bool

	sessionURL string
	expiry     time.Time
	offset     int64 // next chunk's position in the object
	buf        []byte
	total      int64 // bytes accepted by write
	err        error // first failure; latches the uploader broken
}

func newUploader(impl *graphImpl, drivePath, name string, blockSize int, itemID string, appendMode bool, appendBase int64) *uploader {
	return &uploader{
		impl:       impl,
		drivePath:  drivePath,
		name:       name,
		blockSize:  blockSize,
		itemID:     itemID,
		appendMode: appendMode,
		offset:     appendBase,
	}
}

func (u *uploader) fail(err error) error {
	if u.err == nil {
		u.err = err
	}
	return err
}

// write buffers p and submits every completed block.
func (u *uploader) write(ctx context.Context, p []byte) (int, error) {
	if u.err != nil {
		return 0, u.err
	}
	u.buf = append(u.buf, p...)
	u.total += int64(len(p))
	for len(u.buf) >= u.blockSize {
		if err := u.submitChunk(ctx, u.buf[:u.blockSize]); err != nil {
			return 0, u.fail(err)
		}
		u.buf = u.buf[u.blockSize:]
	}
	return len(p), nil
}

// ensureSession creates the resumable session on first use. A new object is
// addressed through its resolved parent so that the missing-file error, if
// any, points at the parent directory.
func (u *uploader) ensureSession(ctx context.Context) error {
	if u.sessionURL != "" {
		return nil
	}
	id := u.itemID
	if id == "" {
		parent, base := split(u.drivePath)
		parentID, err := u.impl.getItemID(ctx, parent, file.Dir(u.name), true)
		if err != nil {
			return err
		}
		id = childItemID(parentID, base)
	}
	body := []byte(`{"@microsoft.graph.conflictBehavior": "replace", "deferCommit": true}`)
	target := u.impl.itemURL(u.drivePath, id, "createUploadSession")
	data, err := u.impl.callBytes(ctx, http.MethodPost, target, u.name, body, jsonHeader)
	if err != nil {
		return err
	}
	var v struct {
		UploadURL          string `json:"uploadUrl"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(data, &v); err != nil || v.UploadURL == "" {
		return errors.E(errors.Remote, u.name, "malformed upload session response")
	}
	u.sessionURL = v.UploadURL
	u.expiry = parseItemTime(v.ExpirationDateTime)
	return nil
}

// submitChunk sends one chunk of the session at the current offset. The
// service refreshes the session deadline with every chunk; the response
// carries the new one.
func (u *uploader) submitChunk(ctx context.Context, chunk []byte) error {
	if err := u.ensureSession(ctx); err != nil {
		return err
	}
	if err := u.checkExpiry(); err != nil {
		return err
	}
	header := http.Header{
		"Content-Range": []string{fmt.Sprintf("bytes %d-%d/*", u.offset, u.offset+int64(len(chunk))-1)},
	}
	data, err := u.impl.callBytes(ctx, http.MethodPut, u.sessionURL, u.name, chunk, header)
	if err != nil {
		return err
	}
	var v struct {
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if json.Unmarshal(data, &v) == nil && v.ExpirationDateTime != "" {
		u.expiry = parseItemTime(v.ExpirationDateTime)
	}
	u.offset += int64(len(chunk))
	return nil
}

func (u *uploader) checkExpiry() error {
	if !u.expiry.IsZero() && !u.expiry.After(time.Now()) {
		return errors.E(errors.Expired, u.name, "upload session expired; no further bytes can be staged")
	}
	return nil
}

// flushTail stages whatever is still buffered. With a session open, or when
// forceSession is set, the remainder goes out as the (possibly short) final
// chunk; forceSession also covers data below one block that must survive in
// a session for a deferred commit.
func (u *uploader) flushTail(ctx context.Context, forceSession bool) error {
	if u.sessionURL == "" && !forceSession {
		return nil
	}
	if len(u.buf) > 0 {
		if err := u.submitChunk(ctx, u.buf); err != nil {
			return u.fail(err)
		}
		u.buf = nil
	}
	return nil
}

// oneShot uploads the whole buffered content in a single request, bypassing
// the session machinery. Only valid while no session exists.
func (u *uploader) oneShot(ctx context.Context) error {
	id := u.itemID
	if id == "" {
		parent, base := split(u.drivePath)
		parentID, err := u.impl.getItemID(ctx, parent, file.Dir(u.name), true)
		if err != nil {
			return err
		}
		id = childItemID(parentID, base)
	}
	target := u.impl.itemURL(u.drivePath, id, "content")
	header := http.Header{"Content-Type": []string{"application/octet-stream"}}
	_, err := u.impl.callBytes(ctx, http.MethodPut, target, u.name, u.buf, header)
	if err != nil {
		return err
	}
	u.buf = nil
	return nil
}

// commit finalizes the session with a zero-length request. A commit lost to
// a transient failure leaves the true outcome unknowable from here, and is
// reported as errors.Indeterminate rather than a retriable failure.
func (u *uploader) commit(ctx context.Context) error {
	if u.sessionURL == "" {
		return nil
	}
	if err := u.checkExpiry(); err != nil {
		return err
	}
	if _, err := u.impl.callBytes(ctx, http.MethodPost, u.sessionURL, u.name, nil, nil); err != nil {
		if errors.IsTemporary(err) {
			return errors.E(errors.Indeterminate, u.name,
				"commit request lost; upload may or may not have been finalized", err)
		}
		return err
	}
	u.reset()
	u.impl.invalidateListings(u.drivePath)
	return nil
}

// abort discards the session, if any. Best effort: a failure to abort only
// delays server-side cleanup until the session deadline passes, so it is
// logged and swallowed.
func (u *uploader) abort(ctx context.Context) {
	if u.sessionURL != "" && time.Now().Before(u.expiry) {
		if _, err := u.impl.callBytes(ctx, http.MethodDelete, u.sessionURL, u.name, nil, nil); err != nil {
			log.Error.Printf("abort upload %s: %v", u.name, err)
		}
	}
	u.reset()
}

func (u *uploader) reset() {
	u.sessionURL = ""
	u.expiry = time.Time{}
	u.buf = nil
}

// finish completes an autocommitting handle. Empty content becomes a plain
// empty file; content that stayed under one block and was not appended goes
// out in one request; everything else drains through the session and is
// committed.
func (u *uploader) finish(ctx context.Context) error {
	if u.err != nil {
		u.abort(ctx)
		return u.err
	}
	switch {
	case u.total == 0 && !u.appendMode:
		if err := u.impl.touch(ctx, u.drivePath, u.name, true); err != nil {
			return u.fail(err)
		}
	case u.total == 0:
		// Appending nothing leaves the object as it is.
	case u.sessionURL == "" && !u.appendMode && u.total < int64(u.blockSize):
		if err := u.oneShot(ctx); err != nil {
			return u.fail(err)
		}
	default:
		if err := u.flushTail(ctx, true); err != nil {
			return err
		}
		if err := u.commit(ctx); err != nil {
			return u.fail(err)
		}
	}
	u.impl.invalidateListings(u.drivePath)
	return nil
}

// stage completes the write side of a handle whose commit is deferred: all
// buffered bytes are pushed into a session, which is then left open for
// commit or abort.
func (u *uploader) stage(ctx context.Context) error {
	if u.err != nil {
		u.abort(ctx)
		return u.err
	}
	return u.flushTail(ctx, true)
}
