// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/file"
)

// graphFile implements the file.File interface.
//
// Operations on a file are internally implemented by a goroutine running
// handleRequests. Requests to handleRequests are sent through
// graphFile.reqCh, and the response to a request is sent through
// request.ch. The user-facing methods such as Read and Seek are implemented
// by sending a request object through reqCh and waiting for a message from
// either the response channel or context.Done(), whichever comes first.
type graphFile struct {
	impl *graphImpl
	name string // caller-visible path, e.g. "shpt://dir/obj"
	mode accessMode
	opts file.Opts

	drivePath string // drive-relative part of "name"
	scheme    string

	reqCh chan request

	// The following fields are accessed only by the handleRequests thread.
	info   *Info  // file metadata; filled on demand
	itemID string // resolved item ID; "" until known
	size   int64  // object size; authoritative in read mode

	// Seek offset.
	// INVARIANT: position >= 0
	position int64

	// One block of readahead. rbuf holds bytes [rbufOff, rbufOff+len(rbuf))
	// of the object.
	rbuf    []byte
	rbufOff int64

	// Used by files opened for writing.
	uploader *uploader
	closed   bool
}

type accessMode int

const (
	readonly accessMode = iota
	writeonly
)

// Name returns the name of the file.
func (f *graphFile) Name() string { return f.name }

func (f *graphFile) String() string { return f.name }

func (f *graphFile) Stat(ctx context.Context) (file.Info, error) {
	if f.mode != readonly {
		return nil, errors.E(errors.NotSupported, f.name, "stat for writeonly file not supported")
	}
	res := f.runRequest(ctx, request{reqType: statRequest})
	if res.err != nil {
		return nil, res.err
	}
	return res.info, nil
}

// graphReader implements io.ReadSeeker on the handle.
type graphReader struct {
	ctx context.Context
	f   *graphFile
}

// Read implements io.Reader.
func (r *graphReader) Read(p []byte) (n int, err error) {
	res := r.f.runRequest(r.ctx, request{
		reqType: readRequest,
		buf:     p,
	})
	return res.n, res.err
}

// Seek implements io.Seeker.
func (r *graphReader) Seek(offset int64, whence int) (int64, error) {
	res := r.f.runRequest(r.ctx, request{
		reqType: seekRequest,
		off:     offset,
		whence:  whence,
	})
	return res.off, res.err
}

func (f *graphFile) Reader(ctx context.Context) io.ReadSeeker {
	if f.mode != readonly {
		return file.NewErrorReader(errors.E(errors.NotSupported, f.name, "file is not opened in read mode"))
	}
	return &graphReader{ctx: ctx, f: f}
}

// graphWriter implements io.Writer on the handle.
type graphWriter struct {
	ctx context.Context
	f   *graphFile
}

func (w *graphWriter) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	res := w.f.runRequest(w.ctx, request{
		reqType: writeRequest,
		buf:     p,
	})
	return res.n, res.err
}

func (f *graphFile) Writer(ctx context.Context) io.Writer {
	if f.mode != writeonly {
		return file.NewErrorWriter(errors.E(errors.NotSupported, f.name, "file is not opened in write mode"))
	}
	return &graphWriter{ctx: ctx, f: f}
}

// Close finishes the handle. In write mode with autocommit (the default)
// all remaining bytes are flushed and the content is finalized. With
// Opts.DisableAutocommit, Close leaves the staged bytes uncommitted; the
// caller must follow with Commit or Discard.
func (f *graphFile) Close(ctx context.Context) error {
	err := f.runRequest(ctx, request{reqType: closeRequest}).err
	close(f.reqCh)
	f.closed = true
	return err
}

// Discard drops the handle and any staged but uncommitted bytes. In write
// mode the upload session, if one was created, is abandoned; abandonment is
// advisory and the service reclaims the session on its own deadline either
// way. Discard may also be called after a deferred-commit Close to resolve
// the staged upload negatively.
func (f *graphFile) Discard(ctx context.Context) error {
	if f.mode != writeonly {
		return nil
	}
	if f.closed {
		f.uploader.abort(ctx)
		return nil
	}
	_ = f.runRequest(ctx, request{reqType: abortRequest})
	close(f.reqCh)
	f.closed = true
	return nil
}

// Commit finalizes an upload that was staged through a handle created with
// Opts.DisableAutocommit and then closed. It must be called after Close.
func (f *graphFile) Commit(ctx context.Context) error {
	if f.mode != writeonly {
		return errors.E(errors.NotSupported, f.name, "commit for readonly file not supported")
	}
	if !f.closed {
		return errors.E(errors.Invalid, f.name, "commit before close")
	}
	return f.uploader.commit(ctx)
}

type requestType int

const (
	seekRequest requestType = iota
	readRequest
	statRequest
	writeRequest
	closeRequest
	abortRequest
)

type request struct {
	ctx     context.Context // context passed to Read, Seek, Close, etc.
	reqType requestType

	// For Read and Write
	buf []byte

	// For Seek
	off    int64
	whence int

	// For sending the response
	ch chan response
}

type response struct {
	n    int   // # of bytes read. Set only by Read.
	off  int64 // Seek location. Set only by Seek.
	info *Info // Set only by Stat.
	err  error // Any error
}

func (f *graphFile) handleRequests() {
	for req := range f.reqCh {
		switch req.reqType {
		case statRequest:
			f.handleStat(req)
		case seekRequest:
			f.handleSeek(req)
		case readRequest:
			f.handleRead(req)
		case writeRequest:
			f.handleWrite(req)
		case closeRequest:
			f.handleClose(req)
		case abortRequest:
			f.handleAbort(req)
		default:
			panic(fmt.Sprintf("illegal request: %+v", req))
		}
		close(req.ch)
	}
}

// Send a request to the handleRequests goroutine and wait for a response.
// The caller must set all the necessary fields in req, except ctx and ch,
// which are filled by this method. On ctx timeout or cancellation, returns
// a response with non-nil err field.
func (f *graphFile) runRequest(ctx context.Context, req request) response {
	resCh := make(chan response, 1)
	req.ctx = ctx
	req.ch = resCh
	f.reqCh <- req
	select {
	case res := <-resCh:
		return res
	case <-ctx.Done():
		return response{err: errors.E(errors.Canceled, f.name, ctx.Err())}
	}
}

func (f *graphFile) handleStat(req request) {
	if f.info == nil {
		if err := f.fillInfo(req.ctx); err != nil {
			req.ch <- response{err: err}
			return
		}
	}
	req.ch <- response{info: f.info}
}

func (f *graphFile) fillInfo(ctx context.Context) error {
	it, err := f.impl.getItem(ctx, f.drivePath, f.name)
	if err != nil {
		return err
	}
	f.info = newInfo(f.scheme, it)
	f.itemID = it.ID
	f.size = it.Size
	return nil
}

func (f *graphFile) handleSeek(req request) {
	var newPosition int64
	switch req.whence {
	case io.SeekStart:
		newPosition = req.off
	case io.SeekCurrent:
		newPosition = f.position + req.off
	case io.SeekEnd:
		newPosition = f.size + req.off
	default:
		req.ch <- response{off: f.position,
			err: errors.E(errors.Invalid, fmt.Sprintf("seek(%s,%d,%d): illegal whence", f.name, req.off, req.whence))}
		return
	}
	if newPosition < 0 {
		req.ch <- response{off: f.position,
			err: errors.E(errors.Invalid, fmt.Sprintf("seek(%s,%d,%d): out-of-bounds seek", f.name, req.off, req.whence))}
		return
	}
	f.position = newPosition
	req.ch <- response{off: f.position}
}

func (f *graphFile) handleRead(req request) {
	if f.position >= f.size {
		req.ch <- response{err: io.EOF}
		return
	}
	if f.position < f.rbufOff || f.position >= f.rbufOff+int64(len(f.rbuf)) {
		if err := f.fillReadBuffer(req.ctx, len(req.buf)); err != nil {
			req.ch <- response{err: err}
			return
		}
	}
	n := copy(req.buf, f.rbuf[f.position-f.rbufOff:])
	f.position += int64(n)
	req.ch <- response{n: n}
}

// fillReadBuffer fetches at least one block starting at the current
// position, or less when the object ends sooner. Sequential readers of
// small buffers thus cost one ranged request per block, not per call.
func (f *graphFile) fillReadBuffer(ctx context.Context, want int) error {
	n := int64(f.opts.BlockSize)
	if int64(want) > n {
		n = int64(want)
	}
	end := f.position + n
	if end > f.size {
		end = f.size
	}
	target := f.impl.itemURL(f.drivePath, f.itemID, "content")
	header := http.Header{
		"Range": []string{fmt.Sprintf("bytes=%d-%d", f.position, end-1)},
	}
	data, err := f.impl.callBytes(ctx, http.MethodGet, target, f.name, nil, header)
	if err != nil {
		return err
	}
	f.rbuf = data
	f.rbufOff = f.position
	return nil
}

func (f *graphFile) handleWrite(req request) {
	n, err := f.uploader.write(req.ctx, req.buf)
	req.ch <- response{n: n, err: err}
}

func (f *graphFile) handleClose(req request) {
	var err error
	switch {
	case f.uploader == nil:
		f.rbuf = nil
	case f.opts.DisableAutocommit:
		err = f.uploader.stage(req.ctx)
	default:
		err = f.uploader.finish(req.ctx)
	}
	if err != nil {
		err = errors.E(err, "close", f.name)
	}
	req.ch <- response{err: err}
}

func (f *graphFile) handleAbort(req request) {
	f.uploader.abort(req.ctx)
	req.ch <- response{}
}
