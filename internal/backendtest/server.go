// Package backendtest provides an in-process agent backend for tests. It
// accepts websocket connections, records every frame the client sends,
// and pushes scripted envelopes back.
package backendtest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Server is a scriptable fake backend.
type Server struct {
	httpSrv *httptest.Server

	mu      sync.Mutex
	current *websocket.Conn

	connected chan struct{}
	inbound   chan json.RawMessage
}

// New starts the fake backend. It shuts down with the test.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		connected: make(chan struct{}, 16),
		inbound:   make(chan json.RawMessage, 128),
	}

	r := chi.NewRouter()
	r.Get("/ws/chat", s.handleWS)
	s.httpSrv = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address of the chat endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpSrv.URL, "http") + "/ws/chat"
}

// Close shuts the server down, dropping any live connection.
func (s *Server) Close() {
	s.mu.Lock()
	conn := s.current
	s.current = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
	s.httpSrv.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.current = conn
	s.mu.Unlock()
	s.connected <- struct{}{}

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		s.inbound <- json.RawMessage(data)
	}
}

// WaitConnected blocks until a client connects or the timeout elapses.
func (s *Server) WaitConnected(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.connected:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for client connection")
	}
}

// TryWaitConnected reports whether a client connected within the timeout,
// without failing the test. Useful for asserting that no connection
// happened.
func (s *Server) TryWaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Recv returns the next frame the client sent, decoded into a generic map.
func (s *Server) Recv(t *testing.T, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case raw := <-s.inbound:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("client sent malformed frame: %v", err)
		}
		return m
	case <-time.After(timeout):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

// Push sends v to the connected client as a JSON text frame.
func (s *Server) Push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal push: %v", err)
	}
	s.PushRaw(t, string(data))
}

// PushRaw sends a pre-encoded text frame, useful for malformed payloads.
func (s *Server) PushRaw(t *testing.T, text string) {
	t.Helper()
	s.mu.Lock()
	conn := s.current
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

// Drop abruptly closes the live connection, simulating a network failure.
func (s *Server) Drop() {
	s.mu.Lock()
	conn := s.current
	s.current = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.CloseNow()
	}
}

// Envelope builds a backend event frame in the wire shape.
func Envelope(typ, sessionID string, data any) map[string]any {
	m := map[string]any{"type": typ}
	if sessionID != "" {
		m["session_id"] = sessionID
	}
	if data != nil {
		m["data"] = data
	}
	return m
}
