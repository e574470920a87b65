package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Request is what the server saw for one request.
type Request struct {
	Method string
	Path   string
	Range  string
	Header http.Header
}

// Server is an httptest server that serves in-memory files with optional
// Range support and failure injection.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	statuses    map[string]int
	getStatuses map[string]int
	headers     map[string]http.Header
	requests    []Request
	ignoreRange bool
	omitLength  bool
	stallAfter  int
	stalled     chan struct{}
	stallOnce   *sync.Once
}

// NewServer starts a server; callers must Close it.
func NewServer() *Server {
	s := &Server{
		files:       make(map[string][]byte),
		statuses:    make(map[string]int),
		getStatuses: make(map[string]int),
		headers:     make(map[string]http.Header),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddFile serves data at path and returns the absolute URL.
func (s *Server) AddFile(path string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return s.URL + path
}

// SetHeader adds a response header to every answer for path.
func (s *Server) SetHeader(path, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headers[path] == nil {
		s.headers[path] = make(http.Header)
	}
	s.headers[path].Set(key, value)
}

// FailWith makes every request for path answer with status.
func (s *Server) FailWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[path] = status
}

// FailGetWith makes GET requests for path answer with status while HEAD
// keeps working.
func (s *Server) FailGetWith(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getStatuses[path] = status
}

// IgnoreRange makes the server answer ranged requests with a full 200.
func (s *Server) IgnoreRange(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreRange = v
}

// OmitLength drops Content-Length from HEAD responses.
func (s *Server) OmitLength(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitLength = v
}

// StallAfter makes GET bodies stop after n bytes until the client goes away.
// The returned channel is closed once the first stall begins.
func (s *Server) StallAfter(n int) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallAfter = n
	s.stalled = make(chan struct{})
	s.stallOnce = &sync.Once{}
	return s.stalled
}

// Requests returns a copy of the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests with method were received.
func (s *Server) CountRequests(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Range:  r.Header.Get("Range"),
		Header: r.Header.Clone(),
	})
	data, found := s.files[r.URL.Path]
	status, forced := s.statuses[r.URL.Path]
	if st, ok := s.getStatuses[r.URL.Path]; ok && r.Method == http.MethodGet {
		status, forced = st, true
	}
	extra := s.headers[r.URL.Path].Clone()
	ignoreRange := s.ignoreRange
	omitLength := s.omitLength
	stallAfter := s.stallAfter
	stalled, once := s.stalled, s.stallOnce
	s.mu.Unlock()

	if forced {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("forced failure"))
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	start := 0
	code := http.StatusOK
	if rh := r.Header.Get("Range"); rh != "" && !ignoreRange {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rh, "bytes="), "-"))
		if err != nil || n < 0 || n >= len(data) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start = n
		code = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
	}
	body := data[start:]

	for k, v := range extra {
		w.Header()[k] = v
	}

	if !ignoreRange {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if r.Method == http.MethodHead && omitLength {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}

	if stallAfter > 0 && stallAfter < len(body) {
		_, _ = w.Write(body[:stallAfter])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		once.Do(func() { close(stalled) })
		<-r.Context().Done()
		return
	}
	_, _ = w.Write(body)
}
