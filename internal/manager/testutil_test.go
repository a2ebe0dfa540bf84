package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	mu         sync.Mutex
	starts     int
	closes     atomic.Int32
	failFirst  int
	startDelay time.Duration
	startGate  chan struct{}
	panicOnce  bool
	receivedMP string

	tokens []string
	final  FinalResult
	genErr error
	// genGate blocks Generate until closed when non-nil.
	genGate chan struct{}
	running atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeAdapter) Start(modelPath string) (InferSession, error) {
	f.mu.Lock()
	f.starts++
	n := f.starts
	f.receivedMP = modelPath
	doPanic := f.panicOnce && n == 1
	f.mu.Unlock()
	if f.startGate != nil {
		<-f.startGate
	}
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	if doPanic {
		panic("boom")
	}
	if n <= f.failFirst {
		return nil, errors.New("load failed")
	}
	return &fakeSession{f: f}, nil
}

func (f *fakeAdapter) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type fakeSession struct{ f *fakeAdapter }

func (s *fakeSession) Generate(ctx context.Context, prompt string, params InferParams, onToken func(string) error) (FinalResult, error) {
	n := s.f.running.Add(1)
	defer s.f.running.Add(-1)
	for {
		prev := s.f.maxSeen.Load()
		if n <= prev || s.f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	if s.f.genGate != nil {
		select {
		case <-s.f.genGate:
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		}
	}
	if s.f.genErr != nil {
		return FinalResult{}, s.f.genErr
	}
	for _, t := range s.f.tokens {
		if err := ctx.Err(); err != nil {
			return FinalResult{}, err
		}
		if err := onToken(t); err != nil {
			return FinalResult{}, err
		}
	}
	return s.f.final, nil
}

func (s *fakeSession) Close() error {
	s.f.closes.Add(1)
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestManager builds a Manager around fa with a fake clock.
func newTestManager(t *testing.T, fa *fakeAdapter, mutate func(*ManagerConfig)) (*Manager, *fakeClock) {
	t.Helper()
	cfg := ManagerConfig{
		ModelPath:   "/models/test.gguf",
		ModelName:   "test",
		Adapter:     fa,
		IdleTimeout: 300 * time.Second,
		MaxWait:     time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewWithConfig(cfg)
	clk := newFakeClock()
	m.now = clk.Now
	return m, clk
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}
