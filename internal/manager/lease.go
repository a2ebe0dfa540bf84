package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Lease is a counted reference to the engine handle. While any lease is
// outstanding the handle is not evicted.
type Lease struct {
	m        *Manager
	sess     InferSession
	once     sync.Once
	released atomic.Bool

	// LoadID identifies the load this lease refers to.
	LoadID string
}

// Generate runs one generation against the leased handle. Only one
// generation runs at a time; callers wait up to the configured MaxWait for
// the engine slot before receiving a too-busy error.
func (l *Lease) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	if l.released.Load() {
		return FinalResult{}, ErrLeaseReleased
	}
	release, err := l.m.beginGeneration(ctx)
	if err != nil {
		return FinalResult{}, err
	}
	defer release()

	tokens := 0
	start := time.Now()
	res, err := l.sess.Generate(ctx, prompt, params, func(tok string) error {
		tokens++
		return onToken(tok)
	})
	l.m.metrics.observeGeneration(time.Since(start), tokens)
	if res.Tokens == 0 {
		res.Tokens = tokens
	}
	return res, err
}

// Release drops the reference and refreshes the last-used time. Calling it
// more than once has no further effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.released.Store(true)
		l.m.mu.Lock()
		l.m.active--
		l.m.lastUsed = l.m.now()
		if l.m.active == 0 && l.m.drained != nil {
			close(l.m.drained)
			l.m.drained = nil
		}
		l.m.mu.Unlock()
	})
}

// beginGeneration reserves the single in-flight slot.
// Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case m.genCh <- struct{}{}:
		return func() { <-m.genCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		m.log.Warn().Str("event", "too_busy").Dur("max_wait", m.cfg.MaxWait).Msg("engine slot wait timed out")
		return func() {}, tooBusyError{model: m.cfg.ModelName}
	}
}
