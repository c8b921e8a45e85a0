// Package api serves the account-facing HTTP surface: connectivity probes,
// open trades, recent account events, manual closes and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoExecCore/internal/broker"
	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// Prober checks a user's backend without trading.
type Prober interface {
	Probe(ctx context.Context, userID int64) (*broker.ProbeResult, error)
}

// TradeCloser exits an open trade on behalf of its owner.
type TradeCloser interface {
	CloseTrade(ctx context.Context, userID, tradeID int64) (*domain.Trade, error)
}

// Dependencies holds the collaborators of the handlers.
type Dependencies struct {
	Prober Prober
	Closer TradeCloser
	Trades ports.TradeRepository
	Events ports.EventRepository
	Logger ports.Logger
}

// NewRouter registers every route.
//
// /api/v1/users/{userID}/
//
//	├── GET  /exchange/test              - connectivity probe
//	├── GET  /trades/open                - open trades with levels and phase
//	├── POST /trades/{tradeID}/close     - manual exit
//	└── GET  /events                     - recent skipped, blocked and failed events
//
// /metrics - Prometheus
func NewRouter(deps Dependencies) *mux.Router {
	h := &handler{deps: deps}

	router := mux.NewRouter()
	router.Use(h.recovery)
	router.Use(h.logging)

	users := router.PathPrefix("/api/v1/users/{userID:[0-9]+}").Subrouter()
	users.HandleFunc("/exchange/test", h.probe).Methods(http.MethodGet)
	users.HandleFunc("/trades/open", h.openTrades).Methods(http.MethodGet)
	users.HandleFunc("/trades/{tradeID:[0-9]+}/close", h.closeTrade).Methods(http.MethodPost)
	users.HandleFunc("/events", h.events).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// Server wraps the router in an http.Server.
type Server struct {
	srv    *http.Server
	logger ports.Logger
}

// NewServer creates a server listening on addr.
func NewServer(addr string, deps Dependencies) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: deps.Logger,
	}
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "HTTP API listening", map[string]interface{}{"addr": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
