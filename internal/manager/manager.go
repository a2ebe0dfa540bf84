package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const loadKey = "model"

type Manager struct {
	cfg     ManagerConfig
	adapter InferenceAdapter
	log     zerolog.Logger
	metrics *Metrics

	mu       sync.Mutex
	state    State
	sess     InferSession
	loadID   string
	lastUsed time.Time
	active   int
	closed   bool
	err      string
	// drained is closed by the last Release while Shutdown waits.
	drained chan struct{}

	loads        uint64
	loadFailures uint64
	evictions    uint64

	// single in-flight generation against the handle
	genCh chan struct{}
	// concurrent first-use acquisitions share one construction
	loadGroup singleflight.Group

	now       func() time.Time
	startTime time.Time
}

// ModelName returns the public name of the served model.
func (m *Manager) ModelName() string { return m.cfg.ModelName }

// Ready reports whether the manager can accept work without waiting on an
// in-progress load. An unloaded manager is ready: the next Acquire loads.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.state != StateLoading
}

// Acquire returns a lease on the engine handle, constructing it if needed.
// The handle is not evicted while any lease is outstanding. Callers must
// Release the lease.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrModelUnavailable(m.cfg.ModelName, fmt.Errorf("manager is shut down"))
		}
		if m.state == StateReady {
			m.active++
			m.lastUsed = m.now()
			l := &Lease{m: m, sess: m.sess, LoadID: m.loadID}
			m.mu.Unlock()
			return l, nil
		}
		m.mu.Unlock()

		if err := m.ensureLoaded(ctx); err != nil {
			return nil, err
		}
		// Loaded; loop to take a reference. The handle may have been evicted
		// in between, in which case the loop loads again.
	}
}

// ensureLoaded waits for a shared load to finish or for ctx to end. The load
// itself is not canceled when ctx ends so other waiters still benefit from it.
func (m *Manager) ensureLoaded(ctx context.Context) error {
	ch := m.loadGroup.DoChan(loadKey, func() (any, error) {
		return nil, m.load()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load constructs the engine handle. Construction runs outside the lock so
// status reads are not blocked by a slow load.
func (m *Manager) load() error {
	m.mu.Lock()
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	if m.closed {
		m.mu.Unlock()
		return ErrModelUnavailable(m.cfg.ModelName, fmt.Errorf("manager is shut down"))
	}
	m.state = StateLoading
	m.mu.Unlock()

	m.log.Info().Str("event", "load_start").Str("path", m.cfg.ModelPath).Str("engine", m.cfg.Engine).Msg("loading model")
	start := time.Now()
	sess, err := m.startSession()
	elapsed := time.Since(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateUnloaded
		m.loadFailures++
		m.err = err.Error()
		m.metrics.observeLoad(false, elapsed)
		m.log.Error().Err(err).Str("event", "load_failed").Dur("duration", elapsed).Msg("model load failed")
		return ErrModelUnavailable(m.cfg.ModelName, err)
	}
	if m.closed {
		m.state = StateUnloaded
		_ = sess.Close()
		return ErrModelUnavailable(m.cfg.ModelName, fmt.Errorf("manager is shut down"))
	}
	m.sess = sess
	m.state = StateReady
	m.loadID = uuid.NewString()
	m.lastUsed = m.now()
	m.loads++
	m.err = ""
	m.metrics.observeLoad(true, elapsed)
	m.metrics.setLoaded(true)
	m.log.Info().Str("event", "load_done").Str("load_id", m.loadID).Dur("duration", elapsed).Msg("model loaded")
	return nil
}

// startSession calls the adapter and converts a panic into a load failure so
// the state never stays Loading.
func (m *Manager) startSession() (sess InferSession, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess = nil
			err = fmt.Errorf("engine panic during load: %v", r)
		}
	}()
	sess, err = m.adapter.Start(m.cfg.ModelPath)
	if err == nil && sess == nil {
		err = fmt.Errorf("engine returned no handle")
	}
	return sess, err
}

// closeSessionLocked frees the handle. Caller must hold m.mu.
func (m *Manager) closeSessionLocked(reason string) {
	if m.sess != nil {
		if err := m.sess.Close(); err != nil {
			m.log.Warn().Err(err).Str("event", "close_error").Msg("closing engine handle")
		}
	}
	m.log.Info().Str("event", "unload").Str("reason", reason).Str("load_id", m.loadID).Msg("model released")
	m.sess = nil
	m.loadID = ""
	m.state = StateUnloaded
	m.metrics.setLoaded(false)
}
