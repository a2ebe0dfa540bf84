package manager

import "context"

// Shutdown stops accepting new leases, waits for outstanding ones to be
// released (bounded by ctx) and frees the engine handle. It is safe to call
// more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var wait <-chan struct{}
	if m.active > 0 {
		if m.drained == nil {
			m.drained = make(chan struct{})
		}
		wait = m.drained
	}
	m.mu.Unlock()
	m.log.Info().Str("event", "shutdown_start").Msg("draining leases")

	var drainErr error
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			m.mu.Lock()
			active := m.active
			m.mu.Unlock()
			m.log.Warn().Str("event", "shutdown_timeout").Int("active", active).Msg("leases still outstanding")
			drainErr = ctx.Err()
		}
	}

	m.mu.Lock()
	// A handle still in use by a generation is left for process exit.
	if m.state == StateReady && m.active == 0 {
		m.closeSessionLocked("shutdown")
	}
	m.mu.Unlock()
	m.log.Info().Str("event", "shutdown_done").Msg("manager stopped")
	return drainErr
}
