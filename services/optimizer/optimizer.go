package optimizer

import (
	"sync"
	"time"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
)

// Performance is one recorded sync pass.
type Performance struct {
	Duration     time.Duration
	Success      bool
	MessageCount int
	RecordedAt   time.Time
}

// Optimizer keeps a rolling per-account history of sync passes and derives the next
// pass's strategy and batch size from it.
type Optimizer struct {
	cfg *config.OptimizerConfig

	mu      sync.Mutex
	history map[string][]Performance
}

var _ interfaces.SyncOptimizer = (*Optimizer)(nil)

func NewOptimizer(cfg *config.OptimizerConfig) *Optimizer {
	return &Optimizer{
		cfg:     cfg,
		history: make(map[string][]Performance),
	}
}

func (o *Optimizer) RecordSyncPerformance(accountID string, duration time.Duration, success bool, messageCount int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entries := append(o.history[accountID], Performance{
		Duration:     duration,
		Success:      success,
		MessageCount: messageCount,
		RecordedAt:   time.Now(),
	})
	if size := o.historySize(); len(entries) > size {
		entries = entries[len(entries)-size:]
	}
	o.history[accountID] = entries
}

func (o *Optimizer) ChooseStrategy(accountID string) enum.SyncStrategy {
	last, ok := o.last(accountID)
	switch {
	case !ok:
		return enum.SyncStrategyFull
	case !last.Success:
		return enum.SyncStrategyRetryFailed
	default:
		return enum.SyncStrategyIncremental
	}
}

// ChooseBatchSize doubles the base after a fast pass and halves it after a slow one.
func (o *Optimizer) ChooseBatchSize(accountID string) int {
	size := o.cfg.BaseBatchSize
	if last, ok := o.last(accountID); ok {
		switch {
		case last.Duration < o.cfg.FastThreshold:
			size *= 2
		case last.Duration > o.cfg.SlowThreshold:
			size /= 2
		}
	}
	if size < 1 {
		size = 1
	}
	return size
}

// History returns a copy of the account's recorded passes, oldest first.
func (o *Optimizer) History(accountID string) []Performance {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Performance(nil), o.history[accountID]...)
}

// Forget drops the history of a removed account.
func (o *Optimizer) Forget(accountID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.history, accountID)
}

func (o *Optimizer) last(accountID string) (Performance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entries := o.history[accountID]
	if len(entries) == 0 {
		return Performance{}, false
	}
	return entries[len(entries)-1], true
}

func (o *Optimizer) historySize() int {
	if o.cfg.HistorySize < 1 {
		return 1
	}
	return o.cfg.HistorySize
}
