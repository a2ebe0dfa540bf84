package manager

import (
	"modelgw/internal/common/fsutil"
	"modelgw/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:        m.state,
		LoadID:       m.loadID,
		LastUsed:     m.lastUsed,
		Active:       m.active,
		Generating:   len(m.genCh) > 0,
		Loads:        m.loads,
		LoadFailures: m.loadFailures,
		Evictions:    m.evictions,
		Err:          m.err,
	}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	s := m.Snapshot()
	now := m.now()
	resp := types.StatusResponse{
		State:              string(s.State),
		Model:              m.cfg.ModelName,
		ModelPath:          m.cfg.ModelPath,
		ModelFound:         m.modelFound(),
		Engine:             m.cfg.Engine,
		LoadID:             s.LoadID,
		IdleTimeoutSeconds: int64(m.cfg.IdleTimeout.Seconds()),
		Active:             s.Active,
		Generating:         s.Generating,
		LoadsTotal:         s.Loads,
		LoadFailuresTotal:  s.LoadFailures,
		EvictionsTotal:     s.Evictions,
		LastError:          s.Err,
		UptimeSeconds:      int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:     now.Unix(),
	}
	if !s.LastUsed.IsZero() {
		resp.LastUsed = s.LastUsed.Unix()
	}
	return resp
}

// modelFound reports whether the artifact exists. Remote engines resolve the
// model themselves.
func (m *Manager) modelFound() bool {
	if m.cfg.Engine == EngineServer {
		return true
	}
	return fsutil.PathExists(m.cfg.ModelPath)
}
