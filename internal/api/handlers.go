package api

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultEventLimit = 50

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// TradeResponse is the account view of an open trade.
type TradeResponse struct {
	ID              int64     `json:"id"`
	Strategy        string    `json:"strategy"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Status          string    `json:"status"`
	Phase           string    `json:"phase"`
	EntryPrice      float64   `json:"entry_price"`
	InitialQuantity float64   `json:"initial_quantity"`
	Quantity        float64   `json:"quantity"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit1     float64   `json:"take_profit_1"`
	TakeProfit2     float64   `json:"take_profit_2"`
	TP1Executed     bool      `json:"tp1_executed"`
	RealizedPNL     float64   `json:"realized_pnl"`
	EntryTime       time.Time `json:"entry_time"`
	ExitPrice       float64   `json:"exit_price,omitempty"`
	ExitReason      string    `json:"exit_reason,omitempty"`
	CloseFailures   int       `json:"close_failures,omitempty"`
}

// EventResponse is the account view of a recorded event.
type EventResponse struct {
	ID        int64     `json:"id"`
	TradeID   int64     `json:"trade_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type tradesResponse struct {
	Trades []TradeResponse `json:"trades"`
	Total  int             `json:"total"`
}

type eventsResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

func toTradeResponse(t *domain.Trade) TradeResponse {
	return TradeResponse{
		ID:              t.ID,
		Strategy:        t.Strategy,
		Symbol:          t.Symbol,
		Side:            string(t.Side),
		Status:          string(t.Status),
		Phase:           string(t.Phase),
		EntryPrice:      t.EntryPrice,
		InitialQuantity: t.InitialQuantity,
		Quantity:        t.Quantity,
		StopLoss:        t.StopLossPrice,
		TakeProfit1:     t.TakeProfit1,
		TakeProfit2:     t.TakeProfit2,
		TP1Executed:     t.TP1PartialExecuted,
		RealizedPNL:     t.RealizedPNL,
		EntryTime:       t.EntryTime,
		ExitPrice:       t.ExitPrice,
		ExitReason:      string(t.ExitReason),
		CloseFailures:   t.CloseFailures,
	}
}

type handler struct {
	deps Dependencies
}

// probe: GET /api/v1/users/{userID}/exchange/test
func (h *handler) probe(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	if h.deps.Prober == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Connectivity probe not configured", "")
		return
	}
	res, err := h.deps.Prober.Probe(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, r, err, "Connectivity probe failed")
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

// openTrades: GET /api/v1/users/{userID}/trades/open
func (h *handler) openTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	trades, err := h.deps.Trades.ListOpenByUser(r.Context(), userID)
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to list open trades")
		return
	}
	out := tradesResponse{Trades: make([]TradeResponse, 0, len(trades)), Total: len(trades)}
	for _, t := range trades {
		out.Trades = append(out.Trades, toTradeResponse(t))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// closeTrade: POST /api/v1/users/{userID}/trades/{tradeID}/close
func (h *handler) closeTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	tradeID, ok := h.pathID(w, r, "tradeID")
	if !ok {
		return
	}
	if h.deps.Closer == nil {
		h.respondError(w, http.StatusServiceUnavailable, "Bot runner not configured", "")
		return
	}
	t, err := h.deps.Closer.CloseTrade(r.Context(), userID, tradeID)
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to close trade")
		return
	}
	h.respondJSON(w, http.StatusOK, toTradeResponse(t))
}

// events: GET /api/v1/users/{userID}/events?limit=N
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.respondError(w, http.StatusBadRequest, "Invalid limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	events, err := h.deps.Events.ListEvents(r.Context(), userID, limit)
	if err != nil {
		h.respondDomainError(w, r, err, "Failed to list events")
		return
	}
	out := eventsResponse{Events: make([]EventResponse, 0, len(events)), Total: len(events)}
	for _, e := range events {
		out.Events = append(out.Events, EventResponse{
			ID:        e.ID,
			TradeID:   e.TradeID,
			Symbol:    e.Symbol,
			Kind:      string(e.Kind),
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	h.respondJSON(w, http.StatusOK, out)
}

func (h *handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid "+name, mux.Vars(r)[name])
		return 0, false
	}
	return id, true
}

// respondDomainError maps core errors to HTTP status codes.
func (h *handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ports.ErrCredentialsMissing), errors.Is(err, ports.ErrConfigurationError):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ports.ErrAuthenticationFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, ports.ErrExchangeUnavailable), errors.Is(err, ports.ErrRateLimited):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.deps.Logger.Error(r.Context(), err, msg, map[string]interface{}{"path": r.URL.Path})
	}
	h.respondError(w, status, msg, err.Error())
}

func (h *handler) respondError(w http.ResponseWriter, status int, msg, details string) {
	h.respondJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

func (h *handler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.deps.Logger.Warn(context.Background(), "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (h *handler) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.deps.Logger.Error(r.Context(), errors.New("panic in handler"), "Recovered from panic",
					map[string]interface{}{"panic": rec, "path": r.URL.Path, "stack": string(debug.Stack())})
				h.respondError(w, http.StatusInternalServerError, "Internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.deps.Logger.Debug(r.Context(), "HTTP request", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}
