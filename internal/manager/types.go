package manager

import "time"

// State represents the lifecycle state of the engine handle.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	LoadID       string
	LastUsed     time.Time
	Active       int
	Generating   bool
	Loads        uint64
	LoadFailures uint64
	Evictions    uint64
	Err          string
}
