package manager

import (
	"context"
	"runtime/debug"
	"time"
)

// Run polls for idleness every PollInterval until ctx is done, releasing the
// engine handle once it has been unused for longer than IdleTimeout.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.evictIdle()
		}
	}
}

// evictIdle releases the handle if it is ready, unleased and idle past the
// threshold. It reports whether an eviction happened.
func (m *Manager) evictIdle() bool {
	m.mu.Lock()
	if m.state != StateReady || m.active > 0 {
		m.mu.Unlock()
		return false
	}
	idle := m.now().Sub(m.lastUsed)
	if idle <= m.cfg.IdleTimeout {
		m.mu.Unlock()
		return false
	}
	m.log.Info().Str("event", "evict").Dur("idle", idle).Msg("releasing idle model")
	m.closeSessionLocked("idle")
	m.evictions++
	m.metrics.incEviction()
	m.mu.Unlock()

	// Return the engine's memory to the OS promptly.
	debug.FreeOSMemory()
	return true
}
