// Copyright 2024-2026 Aiku AI

package sync

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// maxWebhookBody caps how much of a webhook delivery is read.
const maxWebhookBody = 1 << 20

// Server exposes the engine's two webhook endpoints over HTTP.
type Server struct {
	engine *Engine
}

// NewServer creates a webhook server for the engine.
func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

// Handler returns the HTTP handler serving POST /webhook/linear and
// POST /webhook/github.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/linear", s.handleLinear)
	mux.HandleFunc("POST /webhook/github", s.handleGitHub)
	return mux
}

// ListenAndServe serves the webhook endpoints on the configured address.
func (s *Server) ListenAndServe() error {
	server := &http.Server{
		Addr:         s.engine.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.engine.log.Info().Str("addr", server.Addr).Msg("Starting webhook server")
	return server.ListenAndServe()
}

func (s *Server) handleLinear(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "could not parse payload", http.StatusBadRequest)
		return
	}

	outcome, err := s.engine.HandleLinearEvent(r.Context(), &payload, originIP(r, s.engine.cfg.TrustForwardedFor))
	s.respond(w, outcome, err)
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	var payload GitHubPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "could not parse payload", http.StatusBadRequest)
		return
	}

	outcome, err := s.engine.HandleGitHubEvent(r.Context(), &payload, body, r.Header.Get("X-Hub-Signature-256"))
	s.respond(w, outcome, err)
}

func (s *Server) respond(w http.ResponseWriter, outcome string, err error) {
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			http.Error(w, apiErr.Message, apiErr.Status)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, outcome)
}

// originIP extracts the client IP of a delivery. The first X-Forwarded-For
// hop is honored only when the deployment declares a trusted proxy in front;
// the header is client-controlled otherwise.
func originIP(r *http.Request, trustForwardedFor bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustForwardedFor && fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
