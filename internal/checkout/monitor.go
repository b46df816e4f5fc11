package checkout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pasal/internal/domain/carts"
	"pasal/internal/payments"
)

// defaultWatchWindow caps a watch whose intent carries no expiry.
const defaultWatchWindow = 24 * time.Hour

// expiryGrace keeps polling a little past the intent expiry so a payment
// landing right at the deadline still gets its terminal status from the
// gateway instead of a local expiry.
const expiryGrace = 10 * time.Minute

// StatusChecker is the slice of the gateway manager the monitor needs.
type StatusChecker interface {
	CheckStatus(ctx context.Context, provider payments.Provider, intentID string) (*payments.StatusResult, error)
}

// Settler consumes gateway statuses for a watched intent. SettleIntent
// returns true when the intent reached a terminal outcome and the watch can
// stop. ExpireIntent closes a watch whose window elapsed without one.
type Settler interface {
	SettleIntent(ctx context.Context, w WatchSpec, res *payments.StatusResult) bool
	ExpireIntent(ctx context.Context, w WatchSpec)
}

// WatchSpec identifies one watched intent plus the context needed to finish
// the order when it settles.
type WatchSpec struct {
	IntentID    string
	Provider    payments.Provider
	OrderID     int64
	OrderRef    string
	Owner       carts.Owner
	SaveAddress bool
	ExpiresAt   *time.Time
}

// Monitor polls pending intents. One goroutine per intent, one check per
// tick; a check still in flight when the next tick fires simply absorbs it,
// so at most one status request per intent is ever outstanding.
type Monitor struct {
	logger   *zap.SugaredLogger
	checker  StatusChecker
	settler  Settler
	interval time.Duration

	mu       sync.Mutex
	watching map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewMonitor(logger *zap.SugaredLogger, checker StatusChecker, settler Settler, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		logger:   logger,
		checker:  checker,
		settler:  settler,
		interval: interval,
		watching: make(map[string]context.CancelFunc),
	}
}

// Watch starts polling the intent. A second Watch for the same intent is a
// no-op, so retried handler calls never double-poll.
func (m *Monitor) Watch(w WatchSpec) {
	m.mu.Lock()
	if _, ok := m.watching[w.IntentID]; ok {
		m.mu.Unlock()
		return
	}

	deadline := time.Now().Add(defaultWatchWindow)
	if w.ExpiresAt != nil {
		deadline = w.ExpiresAt.Add(expiryGrace)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	m.watching[w.IntentID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, w)
}

// Unwatch stops polling the intent, if it is being watched.
func (m *Monitor) Unwatch(intentID string) {
	m.mu.Lock()
	cancel, ok := m.watching[intentID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Watching reports whether the intent currently has a poll loop.
func (m *Monitor) Watching(intentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watching[intentID]
	return ok
}

// Stop cancels every watch and waits for the poll goroutines to drain.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for _, cancel := range m.watching {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, w WatchSpec) {
	defer func() {
		m.mu.Lock()
		if cancel, ok := m.watching[w.IntentID]; ok {
			cancel()
			delete(m.watching, w.IntentID)
		}
		m.mu.Unlock()
		m.wg.Done()
	}()

	// First check right away; a fast payment should not wait a full tick.
	if m.poll(ctx, w) {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				m.settler.ExpireIntent(context.Background(), w)
			}
			return
		case <-ticker.C:
			if m.poll(ctx, w) {
				return
			}
		}
	}
}

func (m *Monitor) poll(ctx context.Context, w WatchSpec) bool {
	res, err := m.checker.CheckStatus(ctx, w.Provider, w.IntentID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warnw("intent status check failed", "intent_id", w.IntentID, "error", err)
		}
		return false
	}
	return m.settler.SettleIntent(ctx, w, res)
}
