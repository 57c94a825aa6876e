// Package server exposes the inbound HTTP surface of the lore store: adding
// a record, listing all records, and listing filtered records.
package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorevault/lorevault/pkg/lore"
)

// Server serves the lore API over HTTP.
type Server struct {
	store  *lore.Store
	logger lore.Logger
	mux    *http.ServeMux
}

// New creates a server around a store.
func New(store *lore.Store, logger lore.Logger) *Server {
	if logger == nil {
		logger = lore.NopLogger()
	}
	s := &Server{
		store:  store,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /lore/add", s.handleAdd)
	s.mux.HandleFunc("GET /lore/all", s.handleAll)
	s.mux.HandleFunc("GET /lore/filter", s.handleFilter)
	return s
}

// ServeHTTP implements http.Handler with request-scoped logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Info("request handled",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start),
	)
}

type addRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	Template string   `json:"template"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.store.Create(r.Context(), lore.CreateRequest{
		Title:    req.Title,
		Content:  req.Content,
		Tags:     req.Tags,
		Template: req.Template,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeOK(w, map[string]string{"message": "lore added"})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.All(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*lore.Record{}
	}
	s.writeOK(w, records)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	opts := lore.FilterOptions{
		Template: r.URL.Query().Get("template"),
		Query:    r.URL.Query().Get("q"),
	}
	if raw := r.URL.Query().Get("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}

	records, err := s.store.Filter(r.Context(), opts)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*lore.Record{}
	}
	s.writeOK(w, records)
}

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	if data == nil {
		data = []any{}
	}
	s.writeJSON(w, http.StatusOK, envelope{Status: "ok", Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, status, envelope{Status: "error", Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
