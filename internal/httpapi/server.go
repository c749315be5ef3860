// Package httpapi exposes the overlay's local HTTP surface: the browser
// overlay WebSocket, a small control API, health and Prometheus endpoints,
// and the Kick webhook receiver.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/you/stream-alerts/internal/alertqueue"
	"github.com/you/stream-alerts/internal/control"
	"github.com/you/stream-alerts/internal/core"
)

// Status is the shape of GET /api/status.
type Status struct {
	QueueDepth     int               `json:"queue_depth"`
	Visible        *core.Alert       `json:"visible,omitempty"`
	OverlayClients int               `json:"overlay_clients"`
	Sources        map[string]string `json:"sources"`
}

type Options struct {
	Addr           string
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int

	// Visible returns the alert currently on screen, nil when idle.
	Visible func() *core.Alert
	// Sources reports each connector's state for /api/status.
	Sources func() map[string]string
	// Webhook, when set, is mounted at /webhooks/kick.
	Webhook http.Handler
}

type Server struct {
	httpServer *http.Server
	queue      *alertqueue.Queue
	bus        *control.Bus
	hub        *Hub
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy
	sources    func() map[string]string

	mu     sync.Mutex
	closed bool
}

func New(queue *alertqueue.Queue, bus *control.Bus, opts Options) *Server {
	metrics := newMetrics()
	srv := &Server{
		queue:   queue,
		bus:     bus,
		hub:     NewHub(opts.Visible, metrics),
		metrics: metrics,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:    newCORSPolicy(opts.AllowedOrigins),
		sources: opts.Sources,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/status", srv.wrap("/api/status", srv.handleStatus))
	mux.Handle("/api/alerts", srv.wrap("/api/alerts", srv.handleAlerts))
	mux.Handle("/api/alerts/", srv.wrap("/api/alerts/{id}", srv.handleAlertByID))
	mux.Handle("/api/alerts/test", srv.wrap("/api/alerts/test", srv.handleTestAlert))
	if opts.Webhook != nil {
		mux.Handle("/webhooks/kick", srv.wrap("/webhooks/kick", opts.Webhook.ServeHTTP))
	}
	mux.Handle("/overlay/ws", srv.wrap("/overlay/ws", srv.hub.ServeHTTP))

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Hub returns the overlay broadcast hub so the display driver can be wired to
// it.
func (s *Server) Hub() *Hub { return s.hub }

// Metrics returns the collector bundle for wiring into the pipeline.
func (s *Server) Metrics() *Metrics { return s.metrics }

// wrap applies rate limiting, CORS and request accounting around a handler.
func (s *Server) wrap(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.metrics.ObserveRequest(route, r.Method, http.StatusForbidden, time.Since(start))
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.metrics.ObserveRequest(route, r.Method, http.StatusTooManyRequests, time.Since(start))
			return
		}

		next(rec, r)

		status := rec.Status()
		if route == "/webhooks/kick" && status == http.StatusUnauthorized {
			s.metrics.IncWebhookRejected()
		}
		s.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := Status{
		QueueDepth:     s.queue.Len(),
		OverlayClients: s.hub.ClientCount(),
		Sources:        map[string]string{},
	}
	if s.hub.visible != nil {
		status.Visible = s.hub.visible()
	}
	if s.sources != nil {
		status.Sources = s.sources()
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	if id == "" || id == "test" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed := s.queue.Remove(id)
	s.metrics.SetQueueDepth(s.queue.Len())
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no queued alert with that id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": id})
}

// handleTestAlert injects a synthetic alert through the control channel. The
// body is optional; missing fields get sensible defaults so a bare POST shows
// a test follow.
func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	alert := core.Alert{
		Kind:        core.KindFollow,
		SubjectName: "Test User",
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &alert); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "undecodable alert"})
			return
		}
	}
	if alert.ID == "" {
		alert.ID = "test-" + uuid.NewString()
	}
	if !core.ValidKind(alert.Kind) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown alert type"})
		return
	}
	if alert.SubjectName == "" {
		alert.SubjectName = "Test User"
	}

	s.bus.Publish(alert)
	writeJSON(w, http.StatusAccepted, alert)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
