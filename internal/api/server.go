// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/internal/backtest"
	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/marketdata"
	"github.com/ledunk1/bot/internal/optimizer"
	"github.com/ledunk1/bot/internal/scanner"
	"github.com/ledunk1/bot/internal/settings"
)

// Config controls the HTTP listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the stock listener configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Deps are the services the handlers operate on. Metrics and Scanner
// may be nil.
type Deps struct {
	Store     *settings.Store
	Cache     *marketdata.Cache
	Lister    marketdata.SymbolLister
	Scheduler *optimizer.Scheduler
	Engine    *indicator.Engine
	Simulator *backtest.Simulator
	Metrics   http.Handler
	Scanner   *scanner.Scanner
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     Config
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
}

// NewServer creates the API server and registers all routes.
func NewServer(logger *zap.Logger, config Config, deps Deps) *Server {
	s := &Server{
		logger: logger,
		config: config,
		deps:   deps,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for event publication.
func (s *Server) Hub() *Hub { return s.hub }

// Router exposes the mux router for tests.
func (s *Server) Router() *mux.Router { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/api/v1/symbols", s.handleSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/klines/{symbol}", s.handleKlines).Methods("GET")

	s.router.HandleFunc("/api/v1/backtest", s.handleRunBacktest).Methods("POST")

	s.router.HandleFunc("/api/v1/optimization/estimate", s.handleEstimate).Methods("POST")
	s.router.HandleFunc("/api/v1/optimization/start", s.handleStartOptimization).Methods("POST")
	s.router.HandleFunc("/api/v1/optimization/status", s.handleActiveStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/optimization/{id}/status", s.handleRunStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/optimization/{id}/stop", s.handleStopOptimization).Methods("POST")

	s.router.HandleFunc("/api/v1/settings", s.handleListSettings).Methods("GET")
	s.router.HandleFunc("/api/v1/settings/{symbol}", s.handleGetSettings).Methods("GET")
	s.router.HandleFunc("/api/v1/settings/{symbol}", s.handleSaveSettings).Methods("PUT")

	s.router.HandleFunc("/api/v1/scanner/status", s.handleScannerStatus).Methods("GET")

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods("GET")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the hub and the HTTP listener. It blocks until the
// listener stops.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("Starting API server", zap.String("addr", s.config.Addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(s.hub, conn)
	s.hub.register <- client

	go client.readPump()
	go client.writePump()
}

// writeJSON writes a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error body.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
