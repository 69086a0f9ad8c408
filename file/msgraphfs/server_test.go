// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package msgraphfs

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	pathpkg "path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// testServer is an in-memory rendition of the item-metadata service: items
// addressed by path or ID, chunked upload sessions with deferred commit,
// paged child listings, and hooks for injecting failures.
type testServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	items    map[string]*testItem // keyed by drive path; "" is the root
	sessions map[string]*testSession
	nextID   int

	pageSize   int           // children per page; 0 means unpaged
	sessionTTL time.Duration // upload session lifetime

	// intercept, when set, may hijack a request by returning a nonzero
	// HTTP status to respond with.
	intercept func(r *http.Request) int

	requests []string // "METHOD kind path" log
}

type testItem struct {
	id   string
	path string // "" for the root
	dir  bool
	data []byte
	mod  string
}

type testSession struct {
	id     string
	path   string
	data   []byte // bytes received so far, including any append base
	chunks []int
	expiry time.Time
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		t:          t,
		items:      map[string]*testItem{},
		sessions:   map[string]*testSession{},
		sessionTTL: time.Hour,
	}
	s.items[""] = &testItem{id: s.newID(), path: "", dir: true}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

// newImpl builds a graphImpl against the server. Tests tune retries and
// block size through opts.
func (s *testServer) newImpl(opts Options) *graphImpl {
	opts.DriveURL = s.srv.URL + "/drive"
	opts.Client = s.srv.Client()
	if opts.BlockSize == 0 {
		opts.BlockSize = uploadAlignment
	}
	impl, err := NewImplementation(opts)
	if err != nil {
		s.t.Fatal(err)
	}
	return impl.(*graphImpl)
}

func (s *testServer) newID() string {
	s.nextID++
	return fmt.Sprintf("id%d", s.nextID)
}

// addDir creates a directory and any missing ancestors.
func (s *testServer) addDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(p)
}

func (s *testServer) addDirLocked(p string) {
	if _, ok := s.items[p]; ok || p == "" {
		return
	}
	s.addDirLocked(parentOf(p))
	s.items[p] = &testItem{id: s.newID(), path: p, dir: true}
}

// addFile creates a file, and any missing parent directories.
func (s *testServer) addFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(parentOf(p))
	s.items[p] = &testItem{id: s.newID(), path: p, data: data}
}

func (s *testServer) file(p string) *testItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[p]
}

func (s *testServer) countRequests(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if strings.Contains(r, substr) {
			n++
		}
	}
	return n
}

func (s *testServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func parentOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// failNTimes arranges for the next n requests matched by method and URL
// substring to be answered with the given status.
func (s *testServer) failNTimes(n int, method, substr string, status int) {
	var mu sync.Mutex
	remaining := n
	s.intercept = func(r *http.Request) int {
		mu.Lock()
		defer mu.Unlock()
		if remaining > 0 && r.Method == method && strings.Contains(r.URL.Path, substr) {
			remaining--
			return status
		}
		return 0
	}
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	p := strings.TrimPrefix(r.URL.Path, "/drive")
	if strings.HasPrefix(p, "/upload/") {
		s.logRequest(r.Method + " upload " + strings.TrimPrefix(p, "/upload/"))
		if s.injected(w, r) {
			return
		}
		s.handleUpload(w, r, strings.TrimPrefix(p, "/upload/"))
		return
	}
	drivePath, action, ok := s.resolveAddress(p)
	s.logRequest(r.Method + " " + actionKind(action) + " " + drivePath)
	if s.injected(w, r) {
		return
	}
	if !ok {
		s.notFound(w)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetItem(w, drivePath)
	case action == "" && r.Method == http.MethodDelete:
		s.handleDelete(w, drivePath)
	case action == "" && r.Method == http.MethodPatch:
		s.handlePatch(w, r, drivePath)
	case action == "children" && r.Method == http.MethodGet:
		s.handleListChildren(w, r, drivePath)
	case action == "children" && r.Method == http.MethodPost:
		s.handleMkdir(w, r, drivePath)
	case action == "content" && r.Method == http.MethodGet:
		s.handleGetContent(w, r, drivePath)
	case action == "content" && r.Method == http.MethodPut:
		s.handlePutContent(w, r, drivePath)
	case action == "createUploadSession" && r.Method == http.MethodPost:
		s.handleCreateSession(w, drivePath)
	case action == "copy" && r.Method == http.MethodPost:
		s.handleCopy(w, r, drivePath)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func (s *testServer) logRequest(line string) {
	s.mu.Lock()
	s.requests = append(s.requests, line)
	s.mu.Unlock()
}

// injected responds with an injected failure status and reports true when
// the intercept hook claims the request.
func (s *testServer) injected(w http.ResponseWriter, r *http.Request) bool {
	if s.intercept == nil {
		return false
	}
	status := s.intercept(r)
	if status == 0 {
		return false
	}
	http.Error(w, `{"error": {"code": "serviceNotAvailable"}}`, status)
	return true
}

func actionKind(action string) string {
	if action == "" {
		return "item"
	}
	return action
}

// resolveAddress maps the URL path to a drive path plus action. Supported
// forms: /root, /root:<path>:, /items/<id>, /items/<parentID>:/<name>:, each
// optionally followed by /<action>. ok is false when an ID does not
// resolve.
func (s *testServer) resolveAddress(p string) (drivePath, action string, ok bool) {
	switch {
	case p == "/root":
		return "", "", true
	case strings.HasPrefix(p, "/root/"):
		return "", strings.TrimPrefix(p, "/root/"), true
	case strings.HasPrefix(p, "/root:"):
		rest := strings.TrimPrefix(p, "/root:")
		i := strings.Index(rest, ":")
		if i < 0 {
			return "", "", false
		}
		return rest[:i], strings.TrimPrefix(rest[i+1:], "/"), true
	case strings.HasPrefix(p, "/items/"):
		rest := strings.TrimPrefix(p, "/items/")
		if j := strings.Index(rest, ":/"); j >= 0 {
			parent, ok := s.pathByID(rest[:j])
			if !ok {
				return "", "", false
			}
			rem := rest[j+2:]
			k := strings.Index(rem, ":")
			if k < 0 {
				return "", "", false
			}
			return parent + "/" + rem[:k], strings.TrimPrefix(rem[k+1:], "/"), true
		}
		id, action := rest, ""
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			id, action = rest[:j], rest[j+1:]
		}
		drivePath, ok := s.pathByID(id)
		return drivePath, action, ok
	}
	return "", "", false
}

func (s *testServer) pathByID(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.id == id {
			return it.path, true
		}
	}
	return "", false
}

func (s *testServer) notFound(w http.ResponseWriter) {
	http.Error(w, `{"error": {"code": "itemNotFound"}}`, http.StatusNotFound)
}

func (s *testServer) itemJSON(it *testItem) map[string]interface{} {
	m := map[string]interface{}{
		"id":                   it.id,
		"size":                 len(it.data),
		"createdDateTime":      "2024-05-01T10:00:00Z",
		"lastModifiedDateTime": it.mod,
	}
	if it.mod == "" {
		m["lastModifiedDateTime"] = "2024-05-02T11:30:00Z"
	}
	if it.path == "" {
		m["name"] = "root"
	} else {
		m["name"] = pathpkg.Base(it.path)
		m["parentReference"] = map[string]interface{}{
			"driveId": "testdrive",
			"id":      s.items[parentOf(it.path)].id,
			"path":    "/drives/testdrive/root:" + parentOf(it.path),
		}
	}
	if it.dir {
		m["folder"] = map[string]interface{}{"childCount": s.childCountLocked(it.path)}
	} else {
		m["file"] = map[string]interface{}{"mimeType": "text/plain"}
	}
	return m
}

func (s *testServer) childCountLocked(p string) int {
	n := 0
	for _, it := range s.items {
		if it.path != "" && parentOf(it.path) == p && it.path != p {
			n++
		}
	}
	return n
}

func (s *testServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.t.Error(err)
	}
}

func (s *testServer) handleGetItem(w http.ResponseWriter, drivePath string) {
	s.mu.Lock()
	it, ok := s.items[drivePath]
	if !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	body := s.itemJSON(it)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, body)
}

func (s *testServer) handleDelete(w http.ResponseWriter, drivePath string) {
	s.mu.Lock()
	if _, ok := s.items[drivePath]; !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	for p := range s.items {
		if p == drivePath || strings.HasPrefix(p, drivePath+"/") {
			delete(s.items, p)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *testServer) handlePatch(w http.ResponseWriter, r *http.Request, drivePath string) {
	var body struct {
		LastModifiedDateTime string `json:"lastModifiedDateTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	it, ok := s.items[drivePath]
	if !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	it.mod = body.LastModifiedDateTime
	bodyJSON := s.itemJSON(it)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, bodyJSON)
}

func (s *testServer) handleCopy(w http.ResponseWriter, r *http.Request, drivePath string) {
	var body struct {
		ParentReference struct {
			ID string `json:"id"`
		} `json:"parentReference"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		http.Error(w, "bad copy request", http.StatusBadRequest)
		return
	}
	parent, ok := s.pathByID(body.ParentReference.ID)
	if !ok {
		s.notFound(w)
		return
	}
	s.mu.Lock()
	src, ok := s.items[drivePath]
	if !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	dst := parent + "/" + body.Name
	if _, ok := s.items[dst]; ok {
		s.mu.Unlock()
		http.Error(w, `{"error": {"code": "nameAlreadyExists"}}`, http.StatusConflict)
		return
	}
	s.items[dst] = &testItem{
		id:   s.newID(),
		path: dst,
		dir:  src.dir,
		data: append([]byte(nil), src.data...),
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (s *testServer) handleListChildren(w http.ResponseWriter, r *http.Request, drivePath string) {
	s.mu.Lock()
	it, ok := s.items[drivePath]
	if !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	var children []map[string]interface{}
	if it.dir {
		var paths []string
		for p := range s.items {
			if p != "" && parentOf(p) == drivePath && p != drivePath {
				paths = append(paths, p)
			}
		}
		sort.Strings(paths)
		for _, p := range paths {
			children = append(children, s.itemJSON(s.items[p]))
		}
	}
	pageSize := s.pageSize
	s.mu.Unlock()

	skip := 0
	if v := r.URL.Query().Get("skip"); v != "" {
		skip, _ = strconv.Atoi(v)
	}
	page := map[string]interface{}{}
	if pageSize > 0 && skip+pageSize < len(children) {
		page["value"] = children[skip : skip+pageSize]
		page["@odata.nextLink"] = s.srv.URL + r.URL.Path + "?skip=" + strconv.Itoa(skip+pageSize)
	} else if skip < len(children) {
		page["value"] = children[skip:]
	} else {
		page["value"] = []map[string]interface{}{}
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *testServer) handleMkdir(w http.ResponseWriter, r *http.Request, drivePath string) {
	var body struct {
		Name   string                 `json:"name"`
		Folder map[string]interface{} `json:"folder"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" || body.Folder == nil {
		http.Error(w, "bad mkdir request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	parent, ok := s.items[drivePath]
	if !ok || !parent.dir {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	child := drivePath + "/" + body.Name
	if _, ok := s.items[child]; ok {
		s.mu.Unlock()
		http.Error(w, `{"error": {"code": "nameAlreadyExists"}}`, http.StatusConflict)
		return
	}
	it := &testItem{id: s.newID(), path: child, dir: true}
	s.items[child] = it
	bodyJSON := s.itemJSON(it)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusCreated, bodyJSON)
}

func (s *testServer) handleGetContent(w http.ResponseWriter, r *http.Request, drivePath string) {
	s.mu.Lock()
	it, ok := s.items[drivePath]
	if !ok || it.dir {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	data := it.data
	s.mu.Unlock()
	if rng := r.Header.Get("Range"); rng != "" {
		var a, b int64
		if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &a, &b); err != nil {
			http.Error(w, "bad range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if a >= int64(len(data)) {
			http.Error(w, "range out of bounds", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if b >= int64(len(data)) {
			b = int64(len(data)) - 1
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[a : b+1]) // nolint: errcheck
		return
	}
	w.Write(data) // nolint: errcheck
}

func (s *testServer) handlePutContent(w http.ResponseWriter, r *http.Request, drivePath string) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	it, ok := s.items[drivePath]
	if !ok {
		if _, pok := s.items[parentOf(drivePath)]; !pok {
			s.mu.Unlock()
			s.notFound(w)
			return
		}
		it = &testItem{id: s.newID(), path: drivePath}
		s.items[drivePath] = it
	}
	it.data = data
	bodyJSON := s.itemJSON(it)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusCreated, bodyJSON)
}

func (s *testServer) handleCreateSession(w http.ResponseWriter, drivePath string) {
	s.mu.Lock()
	if _, ok := s.items[parentOf(drivePath)]; !ok {
		s.mu.Unlock()
		s.notFound(w)
		return
	}
	sess := &testSession{
		id:     fmt.Sprintf("sess%d", len(s.sessions)+1),
		path:   drivePath,
		expiry: time.Now().Add(s.sessionTTL),
	}
	if it, ok := s.items[drivePath]; ok {
		// An upload against an existing item may continue from its
		// current end (append) or restart from zero (replace).
		sess.data = append([]byte(nil), it.data...)
	}
	s.sessions[sess.id] = sess
	ttl := sess.expiry
	id := sess.id
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uploadUrl":          s.srv.URL + "/drive/upload/" + id,
		"expirationDateTime": ttl.UTC().Format(time.RFC3339),
	})
}

func (s *testServer) handleUpload(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		s.notFound(w)
		return
	}
	switch r.Method {
	case http.MethodPut:
		s.handleUploadChunk(w, r, sess)
	case http.MethodPost:
		s.handleCommit(w, sess)
	case http.MethodDelete:
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func (s *testServer) handleUploadChunk(w http.ResponseWriter, r *http.Request, sess *testSession) {
	var a, b int64
	if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/*", &a, &b); err != nil {
		http.Error(w, "bad content-range", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == 0 {
		// A replacing upload starts over from the beginning.
		sess.data = sess.data[:0]
	}
	if a != int64(len(sess.data)) {
		s.t.Errorf("chunk starts at %d, session has %d bytes", a, len(sess.data))
		http.Error(w, "offset mismatch", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if b-a+1 != int64(len(data)) {
		s.t.Errorf("content-range %d-%d does not match %d body bytes", a, b, len(data))
		http.Error(w, "length mismatch", http.StatusBadRequest)
		return
	}
	sess.data = append(sess.data, data...)
	sess.chunks = append(sess.chunks, len(data))
	sess.expiry = time.Now().Add(s.sessionTTL)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"expirationDateTime": sess.expiry.UTC().Format(time.RFC3339),
		"nextExpectedRanges": []string{fmt.Sprintf("%d-", len(sess.data))},
	})
}

func (s *testServer) handleCommit(w http.ResponseWriter, sess *testSession) {
	s.mu.Lock()
	// Every chunk but the last must be aligned.
	for i, n := range sess.chunks {
		if i < len(sess.chunks)-1 && n%uploadAlignment != 0 {
			s.t.Errorf("chunk %d of %s: %d bytes, not a multiple of %d", i, sess.path, n, uploadAlignment)
		}
	}
	it, ok := s.items[sess.path]
	if !ok {
		it = &testItem{id: s.newID(), path: sess.path}
		s.addDirLocked(parentOf(sess.path))
		s.items[sess.path] = it
	}
	it.data = sess.data
	delete(s.sessions, sess.id)
	bodyJSON := s.itemJSON(it)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusCreated, bodyJSON)
}
