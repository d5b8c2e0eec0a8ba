// Package comfytest provides a scripted ComfyUI server for tests.
package comfytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// Server is an httptest server speaking the subset of the ComfyUI API used by
// the client: /, /object_info, /system_stats, /prompt, /history/{id}, /view,
// /upload/image and /ws.
type Server struct {
	*httptest.Server

	// PromptID is handed out for every accepted prompt
	PromptID string
	// Reject, when set, is returned with status 400 from /prompt
	Reject string
	// Script returns the websocket messages sent after a prompt is queued
	Script func(promptID string) []string
	// History returns the history record JSON for a prompt id
	History func(promptID string) string
	// Files are served by /view keyed by filename
	Files map[string][]byte
	// ObjectInfo is served by /object_info
	ObjectInfo string
	// PingFailures is the number of initial requests to / answered with 503
	PingFailures int

	mu       sync.Mutex
	prompts  []json.RawMessage
	uploads  []string
	pings    int
	queued   chan string
	done     chan struct{}
	upgrader websocket.Upgrader
}

// NewServer starts a server that is closed when the test ends
func NewServer(t testing.TB) *Server {
	s := &Server{
		PromptID:   "prompt-1",
		Files:      make(map[string][]byte),
		ObjectInfo: "{}",
		queued:     make(chan string, 16),
		done:       make(chan struct{}),
	}
	s.Script = func(promptID string) []string {
		return []string{Executing(promptID, "")}
	}
	s.History = func(promptID string) string {
		return fmt.Sprintf(`{%q: {"outputs": {}}}`, promptID)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/object_info", s.handleStatic(func() string { return s.ObjectInfo }))
	mux.HandleFunc("/system_stats", s.handleStatic(func() string {
		return `{"system": {"os": "posix", "python_version": "3.11"}, "devices": [{"name": "cuda:0 Test GPU", "type": "cuda", "index": 0, "vram_total": 25769803776, "vram_free": 20000000000}]}`
	}))
	mux.HandleFunc("/prompt", s.handlePrompt)
	mux.HandleFunc("/history/", s.handleHistory)
	mux.HandleFunc("/view", s.handleView)
	mux.HandleFunc("/upload/image", s.handleUpload)
	mux.HandleFunc("/ws", s.handleWS)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(s.done)
		s.Server.Close()
	})
	return s
}

// Address returns the host and port the server listens on
func (s *Server) Address() (string, int) {
	host, port, _ := net.SplitHostPort(s.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Prompts returns the bodies received by /prompt
func (s *Server) Prompts() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.prompts...)
}

// Uploads returns the filenames received by /upload/image
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.pings++
	failing := s.pings <= s.PingFailures
	s.mu.Unlock()
	if failing {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	io.WriteString(w, "<html></html>")
}

func (s *Server) handleStatic(body func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body())
	}
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.prompts = append(s.prompts, json.RawMessage(body))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s.Reject != "" {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, s.Reject)
		return
	}
	fmt.Fprintf(w, `{"prompt_id": %q, "number": 1, "node_errors": {}}`, s.PromptID)
	s.queued <- s.PromptID
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/history/")
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, s.History(id))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	data, ok := s.Files[r.URL.Query().Get("filename")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	s.mu.Lock()
	s.uploads = append(s.uploads, header.Filename)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"name": %q, "subfolder": "", "type": "input"}`, header.Filename)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 0}}, "sid": "test"}}`))
	for {
		select {
		case id := <-s.queued:
			// preview frames are binary and must be ignored by the reader
			conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1})
			for _, msg := range s.Script(id) {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		case <-s.done:
			return
		}
	}
}

// Executing builds an executing message. An empty node is the completion signal.
func Executing(promptID, node string) string {
	if node == "" {
		return fmt.Sprintf(`{"type": "executing", "data": {"node": null, "prompt_id": %q}}`, promptID)
	}
	return fmt.Sprintf(`{"type": "executing", "data": {"node": %q, "prompt_id": %q}}`, node, promptID)
}

// Progress builds a progress message
func Progress(promptID, node string, value, max int) string {
	return fmt.Sprintf(`{"type": "progress", "data": {"value": %d, "max": %d, "prompt_id": %q, "node": %q}}`, value, max, promptID, node)
}

// ExecutionError builds an execution_error message
func ExecutionError(promptID, node, exceptionType, message string) string {
	return fmt.Sprintf(`{"type": "execution_error", "data": {"prompt_id": %q, "node_id": %q, "node_type": "KSampler", "exception_type": %q, "exception_message": %q, "traceback": []}}`,
		promptID, node, exceptionType, message)
}
