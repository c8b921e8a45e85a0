package app

import (
	"context"
	"fmt"
	"sync"

	"cryptoExecCore/internal/domain"
	"cryptoExecCore/internal/ports"
)

// Runner runs one AccountService per configured account, each on its own
// goroutines so a slow backend never stalls another account.
type Runner struct {
	logger   ports.Logger
	accounts map[int64]*AccountService
	order    []int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running map[int64]bool
}

// NewRunner creates a runner for accounts. Every account shares deps.
func NewRunner(accounts []AccountConfig, deps Deps) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		logger:   deps.Logger,
		accounts: make(map[int64]*AccountService, len(accounts)),
		running:  make(map[int64]bool),
	}
	for _, cfg := range accounts {
		if _, dup := r.accounts[cfg.UserID]; dup {
			return nil, fmt.Errorf("account %d configured twice: %w", cfg.UserID, ports.ErrConfigurationError)
		}
		svc, err := NewAccountService(cfg, deps)
		if err != nil {
			return nil, err
		}
		r.accounts[cfg.UserID] = svc
		r.order = append(r.order, cfg.UserID)
	}
	return r, nil
}

// Start connects every account and launches its loops. An account whose
// broker cannot be resolved stays disabled; the others still run. Start
// returns an error only when no account could be started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("runner already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	started := 0
	for _, id := range r.order {
		svc := r.accounts[id]
		if err := svc.Connect(ctx); err != nil {
			continue
		}
		r.running[id] = true
		started++
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			svc.Run(ctx)
		}()
	}
	r.logger.Info(ctx, "Runner started", map[string]interface{}{"accounts": len(r.order), "running": started})
	if started == 0 && len(r.order) > 0 {
		return fmt.Errorf("no account could be started: %w", ports.ErrConfigurationError)
	}
	return nil
}

// Stop cancels every account loop and waits for them to return. In-flight
// placements finish on their detached contexts first.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.mu.Lock()
	r.running = make(map[int64]bool)
	r.mu.Unlock()
	r.logger.Info(context.Background(), "Runner stopped")
}

// Running reports whether the account's loops were started.
func (r *Runner) Running(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[userID]
}

// CloseTrade manually exits an open trade of userID.
func (r *Runner) CloseTrade(ctx context.Context, userID, tradeID int64) (*domain.Trade, error) {
	svc, ok := r.accounts[userID]
	if !ok || !r.Running(userID) {
		return nil, fmt.Errorf("account %d is not running: %w", userID, ports.ErrNotFound)
	}
	return svc.CloseTrade(ctx, tradeID)
}
