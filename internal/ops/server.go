package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Server is the operator HTTP handler.
type Server struct {
	status  Provider
	history History
	mux     *http.ServeMux
}

// NewServer creates the handler. history may be nil.
func NewServer(status Provider, history History) *Server {
	s := &Server{
		status:  status,
		history: history,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Status(r.Context())
	if err != nil {
		slog.Error("build status failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, `{"error":"history not configured"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.history.Tail(r.Context(), limit)
	if err != nil {
		slog.Error("read history failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if records == nil {
		w.Write([]byte("[]\n"))
		return
	}
	json.NewEncoder(w).Encode(records)
}
