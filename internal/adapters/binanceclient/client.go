package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/metrics"
	"cryptoExecCore/internal/ports"
	"cryptoExecCore/internal/retry"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// BackendName identifies the live backend.
	BackendName = "binance"
)

// Client implements the ports.Broker interface against the Binance spot REST API
// using the go-binance library.
type Client struct {
	spot         *binance.Client
	logger       ports.Logger
	quoteAsset   string
	recvWindow   int64
	maxClockSkew time.Duration
	syncInterval time.Duration
	limiter      *rate.Limiter
	readPolicy   retry.Policy
	testnet      bool

	timeMu     sync.Mutex
	lastSync   time.Time
	timeOffset time.Duration // local minus server
	needResync bool

	symbolsMu sync.RWMutex
	symbols   map[string]*domain.SymbolInfo

	now func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey           string
	SecretKey        string
	UseTestnet       bool
	BaseURL          string // Overrides the production/testnet endpoint when set
	QuoteAsset       string // Currency balances are converted to (default USDT)
	RecvWindow       time.Duration
	MaxClockSkew     time.Duration // Local offset beyond this refuses signed order requests
	TimeSyncInterval time.Duration
	RateLimitRPS     float64
	ReadRetries      int
	ReadPolicy       *retry.Policy // Overrides the default read retry policy
	Logger           ports.Logger
}

// New creates a new Binance client adapter. It does not contact the exchange;
// call SyncTime before placing orders.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global binance.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	recvWindow := cfg.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5 * time.Second
	}
	maxSkew := cfg.MaxClockSkew
	if maxSkew <= 0 {
		maxSkew = recvWindow
	}
	syncInterval := cfg.TimeSyncInterval
	if syncInterval <= 0 {
		syncInterval = 30 * time.Minute
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	readRetries := cfg.ReadRetries
	if readRetries <= 0 {
		readRetries = 3
	}
	policy := retry.DefaultPolicy(readRetries)
	if cfg.ReadPolicy != nil {
		policy = *cfg.ReadPolicy
	}

	return &Client{
		spot:         client,
		logger:       cfg.Logger,
		quoteAsset:   quote,
		recvWindow:   recvWindow.Milliseconds(),
		maxClockSkew: maxSkew,
		syncInterval: syncInterval,
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		readPolicy:   policy,
		testnet:      cfg.UseTestnet,
		symbols:      make(map[string]*domain.SymbolInfo),
		now:          time.Now,
	}, nil
}

// Name identifies the backend.
func (c *Client) Name() string {
	if c.testnet {
		return BackendName + "-testnet"
	}
	return BackendName
}

// IsPaper reports false: orders reach the exchange.
func (c *Client) IsPaper() bool { return false }

// QuoteAsset returns the currency balances are reported in.
func (c *Client) QuoteAsset() string { return c.quoteAsset }

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case 0: // Non-JSON error body, typically a gateway or 5xx response
			mappedErr = ports.ErrExchangeUnavailable
		case -1000, -1001, -1016: // Unknown error, disconnected, service shutting down
			mappedErr = ports.ErrExchangeUnavailable
		case -1003, -1015: // Too many requests / orders
			mappedErr = ports.ErrRateLimited
		case -1007: // Timeout waiting for backend; execution status unknown
			mappedErr = ports.ErrTimeout
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrClockSkew
			c.markResync()
		case -1022, -2014, -2015: // Bad signature, API-key format, key/IP/permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrInvalidSymbol
		case -1013, -1111, -1100, -1102, -1106: // Filter failure, precision, parameter errors
			mappedErr = ports.ErrInvalidOrder
		case -2010: // New order rejected
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrInvalidOrder
			}
		case -2011, -2013: // Cancel rejected / order does not exist
			mappedErr = ports.ErrOrderNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		if ports.IsTransient(finalErr) {
			c.logger.Warn(ctx, fmt.Sprintf("%s failed with API error", operation), fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.As(err, &netErr),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"),
		strings.Contains(err.Error(), "EOF"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	default:
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	if ports.IsTransient(finalErr) {
		c.logger.Warn(ctx, fmt.Sprintf("%s failed", operation), fields)
	} else {
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	}
	return finalErr
}

// wait blocks on the client-side rate limiter.
func (c *Client) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter: %w: %w", op, ports.ErrTimeout, err)
	}
	return nil
}

// read runs an idempotent exchange read with rate limiting and bounded retries.
func read[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	defer observe(c.Name(), op, c.now())
	return retry.Value(ctx, c.readPolicy, func(ctx context.Context) (T, error) {
		var zero T
		if err := c.wait(ctx, op); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err != nil {
			return zero, c.handleError(ctx, err, op)
		}
		return v, nil
	})
}

func observe(backend, op string, start time.Time) {
	metrics.BackendLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// SyncTime synchronizes the signing timestamp with the exchange server time.
func (c *Client) SyncTime(ctx context.Context) error {
	op := "SyncTime"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	offsetMs, err := c.spot.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.timeMu.Lock()
	c.timeOffset = time.Duration(offsetMs) * time.Millisecond
	c.lastSync = c.now()
	c.needResync = false
	c.timeMu.Unlock()
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"offsetMs": offsetMs})
	return nil
}

// TimeOffset returns the last measured local-minus-server clock offset.
func (c *Client) TimeOffset() time.Duration {
	c.timeMu.Lock()
	defer c.timeMu.Unlock()
	return c.timeOffset
}

func (c *Client) markResync() {
	c.timeMu.Lock()
	c.needResync = true
	c.timeMu.Unlock()
}

// ensureClock resyncs when the last sync is stale or the exchange rejected a
// timestamp, and refuses signed order requests when the local clock is further
// from the server than the configured tolerance.
func (c *Client) ensureClock(ctx context.Context) error {
	c.timeMu.Lock()
	stale := c.needResync || c.lastSync.IsZero() || c.now().Sub(c.lastSync) > c.syncInterval
	c.timeMu.Unlock()
	if stale {
		if err := c.SyncTime(ctx); err != nil {
			return err
		}
	}
	offset := c.TimeOffset()
	if offset < 0 {
		offset = -offset
	}
	if offset > c.maxClockSkew {
		return fmt.Errorf("local clock is %s away from exchange time (max %s): %w", offset, c.maxClockSkew, ports.ErrClockSkew)
	}
	return nil
}

func (c *Client) recvWindowOpt() binance.RequestOption {
	return binance.WithRecvWindow(c.recvWindow)
}
