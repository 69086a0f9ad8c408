// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/graphdrive/base/errors"
	"github.com/graphdrive/base/retry"
)

func TestRetryTransient(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addFile("/dir/f.txt", []byte("hello"))
	impl := s.newImpl(Options{Retries: 5})

	s.failNTimes(2, http.MethodGet, "f.txt", http.StatusServiceUnavailable)
	info, err := impl.Stat(ctx, "shpt://dir/f.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Size(), int64(5); got != want {
		t.Errorf("size: got %d, want %d", got, want)
	}
	if got, want := s.countRequests("GET item /dir/f.txt"), 3; got != want {
		t.Errorf("attempts: got %d, want %d", got, want)
	}
}

func TestRetryExhausted(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addFile("/f.txt", nil)
	impl := s.newImpl(Options{Retries: 3})

	s.failNTimes(100, http.MethodGet, "f.txt", http.StatusBadGateway)
	_, err := impl.Stat(ctx, "shpt://f.txt")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Unavailable, err) {
		t.Errorf("got %v, want kind Unavailable", err)
	}
	if !errors.IsTemporary(err) {
		t.Errorf("error should be marked temporary: %v", err)
	}
	if got, want := s.countRequests("GET item /f.txt"), 3; got != want {
		t.Errorf("attempts: got %d, want %d", got, want)
	}
}

func TestNonRetryableSettlesImmediately(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	s.addFile("/f.txt", nil)
	impl := s.newImpl(Options{Retries: 5})

	s.failNTimes(100, http.MethodGet, "f.txt", http.StatusForbidden)
	_, err := impl.Stat(ctx, "shpt://f.txt")
	if !errors.Is(errors.Remote, err) {
		t.Fatalf("got %v, want kind Remote", err)
	}
	if !strings.Contains(err.Error(), "http 403") {
		t.Errorf("error should carry the status: %v", err)
	}
	if got, want := s.countRequests("GET item /f.txt"), 1; got != want {
		t.Errorf("attempts: got %d, want %d", got, want)
	}
}

func TestNotFoundTranslation(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	impl := s.newImpl(Options{})

	_, err := impl.Stat(ctx, "shpt://no/such/file")
	if !errors.Is(errors.NotExist, err) {
		t.Fatalf("got %v, want kind NotExist", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "shpt://no/such/file") {
		t.Errorf("error should name the path: %q", msg)
	}
	for _, leak := range []string{"root:", "/items/", s.srv.URL} {
		if strings.Contains(msg, leak) {
			t.Errorf("error leaks addressing syntax %q: %q", leak, msg)
		}
	}
}

func TestLogicalPath(t *testing.T) {
	for _, c := range []struct{ target, want string }{
		{"https://x.example.com/v1.0/drives/d/root:/a/b:", "/a/b"},
		{"https://x.example.com/v1.0/drives/d/root:/a/b:/children", "/a/b"},
		{"https://x.example.com/v1.0/drives/d/root", "/v1.0/drives/d/root"},
	} {
		if got := logicalPath(c.target); got != c.want {
			t.Errorf("logicalPath(%q): got %q, want %q", c.target, got, c.want)
		}
	}
}

func TestCanceledDuringBackoff(t *testing.T) {
	s := newTestServer(t)
	s.addFile("/f.txt", nil)
	impl := s.newImpl(Options{Retries: 5})

	s.failNTimes(100, http.MethodGet, "f.txt", http.StatusServiceUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := impl.Stat(ctx, "shpt://f.txt")
	if !errors.Is(errors.Canceled, err) {
		t.Fatalf("got %v, want kind Canceled", err)
	}
	if got := s.countRequests("GET item /f.txt"); got >= 5 {
		t.Errorf("attempts: got %d, want fewer than the retry budget", got)
	}
}

// The transport's backoff schedule: 100ms growing by 1.7x per attempt,
// capped at 15s.
func TestBackoffSchedule(t *testing.T) {
	policy := retry.Backoff(backoffInitial, backoffMax, backoffFactor)
	want := []time.Duration{
		100 * time.Millisecond,
		170 * time.Millisecond,
		289 * time.Millisecond,
		491300 * time.Microsecond,
	}
	for i, w := range want {
		again, d := policy.Retry(i)
		if !again {
			t.Fatalf("retry %d: policy gave up", i)
		}
		if diff := d - w; diff < -time.Millisecond || diff > time.Millisecond {
			t.Errorf("retry %d: wait %v, want about %v", i, d, w)
		}
	}
	if _, d := policy.Retry(50); d != backoffMax {
		t.Errorf("wait after many retries: got %v, want the %v cap", d, backoffMax)
	}
}

func TestCanceledContext(t *testing.T) {
	s := newTestServer(t)
	s.addFile("/f.txt", nil)
	impl := s.newImpl(Options{Retries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := impl.Stat(ctx, "shpt://f.txt")
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
}
