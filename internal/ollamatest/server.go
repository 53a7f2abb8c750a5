// Package ollamatest provides a scripted Ollama server for tests.
package ollamatest

import (
	"encoding/json"
	"io"
	"llmtoolbox/clients/ollama"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Server answers /api/version, /api/show and /api/generate from its script.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	models         map[string]ollama.ModelDetails
	fragments      []string
	streamError    string
	generateStatus int

	hits         map[string]int
	lastGenerate []byte
}

// NewServer starts a server knowing models.
func NewServer(models ...string) *Server {
	ret := &Server{
		models: make(map[string]ollama.ModelDetails),
		hits:   make(map[string]int),
	}
	for _, m := range models {
		ret.models[m] = ollama.ModelDetails{Family: "llama", ParameterSize: "3.2B"}
	}
	ret.Server = httptest.NewServer(http.HandlerFunc(ret.serve))
	return ret
}

// Stall blocks every request until the returned func is called.
func (s *Server) Stall() (release func()) {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Server) AddModel(name string, details ollama.ModelDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = details
}

func (s *Server) RemoveModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, name)
}

// SetFragments scripts /api/generate to stream one chunk per fragment.
func (s *Server) SetFragments(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = fragments
}

// SetStreamError scripts an error chunk after the fragments.
func (s *Server) SetStreamError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamError = message
}

// SetGenerateStatus scripts /api/generate to refuse with status.
func (s *Server) SetGenerateStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateStatus = status
}

// Hits returns how many requests path has received.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// LastGenerate returns the raw JSON body of the latest /api/generate request.
func (s *Server) LastGenerate() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGenerate
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	body, _ := io.ReadAll(r.Body)
	switch r.URL.Path {
	case "/api/version":
		writeJSON(w, http.StatusOK, ollama.VersionResponse{Version: "0.5.7"})
	case "/api/show":
		var req ollama.ShowRequest
		_ = json.Unmarshal(body, &req)
		details, ok := s.models[req.Model]
		if !ok {
			writeJSON(w, http.StatusNotFound, ollama.Error{Message: "model '" + req.Model + "' not found"})
			return
		}
		writeJSON(w, http.StatusOK, ollama.ShowResponse{Details: details})
	case "/api/generate":
		s.lastGenerate = body
		if s.generateStatus != 0 {
			writeJSON(w, s.generateStatus, ollama.Error{Message: http.StatusText(s.generateStatus)})
			return
		}
		var req ollama.GenerateRequest
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/x-ndjson")
		encoder := json.NewEncoder(w)
		for _, fragment := range s.fragments {
			_ = encoder.Encode(ollama.GenerateChunk{Model: req.Model, Response: &fragment})
		}
		if s.streamError != "" {
			_ = encoder.Encode(ollama.GenerateChunk{Error: s.streamError})
			return
		}
		empty := ""
		_ = encoder.Encode(ollama.GenerateChunk{Model: req.Model, Response: &empty, Done: true, DoneReason: "stop"})
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
