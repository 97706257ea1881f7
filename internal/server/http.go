package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"tarot/internal/distribution"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type healthResponse struct {
	Status string `json:"status"`
	Tables int    `json:"tables"`
}

// Routes mounts the health, websocket and distribution verification
// endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("GET /distributions/{code}", h.Distribution)
	return loggingMiddleware(mux)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Tables: h.tables.Len()})
}

// Distribution answers a hash code lookup. Cards and numbers appear only
// after every game dealt from it has concluded.
func (h *Handler) Distribution(w http.ResponseWriter, r *http.Request) {
	info, err := h.tables.Distributions().Lookup(r.PathValue("code"))
	if errors.Is(err, distribution.ErrUnknownDistribution) {
		writeError(w, http.StatusNotFound, err.Error(), "unknown_distribution")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
