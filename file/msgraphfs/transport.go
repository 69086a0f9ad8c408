// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/log"
	"github.com/graphdrive/base/retry"
)

// Statuses that indicate a transient upstream condition. Anything else is
// settled on the first response.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// call issues one HTTP request with retries. Transient failures (retryable
// statuses and network errors) are retried up to impl.retries total
// attempts with exponential backoff; all other responses settle the call
// immediately. name is the caller-visible path used in error messages; the
// returned errors never contain item-addressing URL syntax. On success the
// caller owns resp.Body.
func (impl *graphImpl) call(ctx context.Context, method, target, name string, body []byte, header http.Header) (*http.Response, error) {
	if name == "" {
		name = logicalPath(target)
	}
	var lastErr error
	for i := 0; ; i++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return nil, errors.E(errors.Invalid, method, name, err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := impl.client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, errors.E(errors.Canceled, method, name, ctx.Err())
			}
			lastErr = errors.E(errors.Net, errors.Temporary, method, name, err)
		case retryableStatus(resp.StatusCode):
			drain(resp)
			lastErr = errors.E(errors.Unavailable, errors.Temporary,
				fmt.Sprintf("%s %s: http %d", method, name, resp.StatusCode))
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		default:
			return nil, impl.httpError(method, name, resp)
		}
		if i+1 >= impl.retries {
			return nil, lastErr
		}
		if werr := retry.Wait(ctx, impl.policy, i); werr != nil {
			// Interrupted mid-backoff: the caller gave up waiting, which is
			// not the same as exhausting the retry budget.
			if ctx.Err() != nil {
				return nil, errors.E(errors.Canceled, method, name, lastErr)
			}
			return nil, errors.E(errors.Timeout, method, name, lastErr)
		}
		log.Debug.Printf("retrying %s %s (attempt %d): %v", method, name, i+2, lastErr)
	}
}

// httpError translates a settled non-2xx response into a typed error.
func (impl *graphImpl) httpError(method, name string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close() // nolint: errcheck
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.E(errors.NotExist, name, "file or directory does not exist")
	case http.StatusConflict:
		return errors.E(errors.Exists, name, "object already exists")
	}
	log.Error.Printf("%s %s: http %d: %s", method, name, resp.StatusCode, data)
	return errors.E(errors.Remote,
		fmt.Sprintf("%s %s: http %d: %s", method, name, resp.StatusCode, strings.TrimSpace(string(data))))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) // nolint: errcheck
	resp.Body.Close()                                     // nolint: errcheck
}

// callBytes runs call and returns the full response body.
func (impl *graphImpl) callBytes(ctx context.Context, method, target, name string, body []byte, header http.Header) ([]byte, error) {
	resp, err := impl.call(ctx, method, target, name, body, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint: errcheck
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(errors.Net, errors.Temporary, method, name, err)
	}
	return data, nil
}

// logicalPath recovers a human-readable path from an item-addressing URL
// for the rare error paths where the caller did not pass one.
func logicalPath(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	p := u.Path
	if i := strings.LastIndex(p, "root:"); i >= 0 {
		p = p[i+len("root:"):]
		if j := strings.IndexByte(p, ':'); j >= 0 {
			p = p[:j]
		}
	}
	if p == "" {
		p = "/"
	}
	return p
}

var jsonHeader = http.Header{"Content-Type": []string{"application/json"}}
