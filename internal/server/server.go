package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/notify"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

// maxEventBytes bounds the size of an accepted S3 event document.
const maxEventBytes = 1 << 20

// EventHandler handles S3 event notifications.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev notify.S3Event) error
}

// Server handles HTTP requests
type Server struct {
	config   config.ServerConfig
	statuses storage.StatusStore
	events   EventHandler
	log      logger.Logger
	server   *http.Server
}

// NewServer creates a new HTTP server. events may be nil, in which case
// /notify answers 503.
func NewServer(cfg config.ServerConfig, statuses storage.StatusStore, events EventHandler, log logger.Logger) *Server {
	s := &Server{
		config:   cfg,
		statuses: statuses,
		events:   events,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/notify", s.handleNotify)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports run status for every wiki, or for one with ?wiki=
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if wiki := r.URL.Query().Get("wiki"); wiki != "" {
		status, err := s.statuses.GetStatus(r.Context(), wiki)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
			return
		}
		if status == nil {
			http.Error(w, "Wiki not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	statuses, err := s.statuses.ListStatuses(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wikis": statuses,
		"count": len(statuses),
	})
}

// handleNotify accepts an S3 event notification for a new object
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.events == nil {
		http.Error(w, "Notifications disabled", http.StatusServiceUnavailable)
		return
	}

	var ev notify.S3Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		http.Error(w, "Invalid event", http.StatusBadRequest)
		return
	}

	if err := s.events.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, notify.ErrNotMetadata) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.log.Error("Notification failed", logger.Error(err))
		http.Error(w, fmt.Sprintf("Notification failed: %v", err), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
