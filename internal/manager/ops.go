package manager

import "context"

// Preload kicks off an async load so the first request does not pay for it.
// Callers can poll Status() to observe state transitions. The returned
// channel receives the load result and is then closed.
func (m *Manager) Preload(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		// Use a detached context so the load isn't canceled along with the
		// caller; the caller context only bounds how long we wait.
		err := m.ensureLoaded(context.WithoutCancel(ctx))
		if err != nil {
			m.log.Warn().Err(err).Str("event", "preload_failed").Msg("preload failed")
		}
		done <- err
	}()
	return done
}
