// Package manager owns the lifecycle of the single served model. It is
// structured into small files by concern:
//
//   - manager.go: core Manager type, Acquire and the deduplicated load path.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: lifecycle states.
//   - errors.go: error types and helpers (IsTooBusy, IsModelUnavailable, ...).
//   - lease.go: Lease, the engine slot and generation admission.
//   - evict.go: the idle poll loop and eviction.
//   - ops.go: Preload for warming the model in the background.
//   - unload.go: Shutdown, draining leases before freeing the engine.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - metrics.go: Prometheus collectors for loads, evictions and generations.
//
// Build tags and runtimes:
//
//   - In-process llama:
//     Uses the go-llama.cpp adapter. Enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: adapter_llama_stub.go.
//
//   - External llama.cpp server:
//     adapter_llama_server.go speaks the OpenAI-compatible /v1/completions
//     streaming API of a running llama-server.
//
// The engine handle is constructed lazily on first Acquire, shared by all
// leases, and released after a period of inactivity. At most one generation
// runs against the handle at any time.
package manager
