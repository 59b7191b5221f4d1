package opsview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atomicswap/resolver/internal/resolver"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes /health, /metrics, /resolve, and /ws for one resolver
// Engine, grounded on the teacher's cmd/reconciler.startMetricsServer.
type Server struct {
	engine *resolver.Engine
	hub    *Hub
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer constructs a Server bound to addr; call Run to start serving.
func NewServer(addr string, engine *resolver.Engine, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{engine: engine, hub: hub, logger: logger.With("component", "opsview-http")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/resolve", s.handleResolve)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Run blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("starting ops http server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and disconnects every operator
// WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{"status": "healthy"}
	code := http.StatusOK

	if err := s.engine.Health(ctx); err != nil {
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, req *http.Request) {
	stats := s.engine.GetStats()

	metrics := map[string]interface{}{
		"orders_total":           stats.Total,
		"orders_pending":         stats.Pending,
		"orders_source_locked":   stats.SourceLocked,
		"orders_target_locked":   stats.TargetLocked,
		"orders_fulfilled":       stats.Fulfilled,
		"orders_refunded":        stats.Refunded,
		"orders_failed":          stats.Failed,
		"orders_needs_attention": stats.NeedsAttention,
		"operator_connections":   s.hub.ActiveConnections(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics)
}

func (s *Server) handleResolve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		OrderHash string `json:"order_hash"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var hash [32]byte
	if _, err := fmt.Sscanf(body.OrderHash, "%x", &hash); err != nil {
		http.Error(w, "invalid order_hash", http.StatusBadRequest)
		return
	}

	if err := s.engine.ResolveHalt(hash); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "resolved"})
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Register(req.Context(), conn)
}
