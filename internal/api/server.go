package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/engine"
)

// StatusProvider is the subset of the Orchestrator the dashboard reads.
type StatusProvider interface {
	GetStatus() (engine.Status, error)
}

// Server is the read-only dashboard HTTP server: /status, /positions,
// /orders, /metrics, and a websocket event stream. Grounded on the
// teacher's internal/api/server.go (mux router, rs/cors wrapper,
// http.Server lifecycle), narrowed to a read-only surface since
// SPEC_FULL.md names no mutating dashboard endpoint.
type Server struct {
	logger     *zap.Logger
	eng        StatusProvider
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	registry   *prometheus.Registry

	openOrdersGauge prometheus.Gauge
	haltedGauge     prometheus.Gauge
}

// New constructs the dashboard server bound to addr ("host:port").
func New(logger *zap.Logger, eng StatusProvider, eventBus *bus.Bus, addr string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger: logger.Named("api"),
		eng:    eng,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		openOrdersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_engine_open_orders",
			Help: "Current count of locally-open orders.",
		}),
		haltedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_engine_risk_halted",
			Help: "1 if the risk manager is currently halted, 0 otherwise.",
		}),
	}
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(s.openOrdersGauge, s.haltedGauge)

	s.setupRoutes()

	if eventBus != nil {
		eventBus.On(bus.EventOrderBookUpdate, s.forwardEvent("order_book_update"))
		eventBus.On(bus.EventOrderFilled, s.forwardEvent("order_filled"))
		eventBus.On(bus.EventPositionChanged, s.forwardEvent("position_changed"))
		eventBus.On(bus.EventRiskBreach, s.forwardEvent("risk_breach"))
	}

	s.httpServer = &http.Server{
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET"},
		}).Handler(s.router),
	}
	return s
}

func (s *Server) forwardEvent(eventType string) bus.Handler {
	return func(evt bus.Event) error {
		s.hub.Publish(eventType, evt.Data)
		return nil
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.router.HandleFunc("/orders", s.handleOrders).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/stream", s.handleWebSocket)
}

// Start runs the hub and begins serving HTTP. Blocks until the server
// stops; intended to be run in a goroutine.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("starting dashboard server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: listen and serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) refreshGauges(status engine.Status) {
	s.openOrdersGauge.Set(float64(len(status.OpenOrders)))
	if status.Halted {
		s.haltedGauge.Set(1)
	} else {
		s.haltedGauge.Set(0)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.eng.GetStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.refreshGauges(status)
	writeJSON(w, status)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	status, err := s.eng.GetStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status.Positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	status, err := s.eng.GetStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, status.OpenOrders)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	s.hub.register <- c
	go s.writePump(c)
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.hub.unregister <- c
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
