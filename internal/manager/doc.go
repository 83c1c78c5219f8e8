// Package manager owns the loaded sessions of a model registry and admits
// requests to them. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, Instance, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, ...).
//   - helpers.go: model lookup and VRAM estimation.
//   - admission.go: per-instance bounded queue with backpressure.
//   - ensure.go: EnsureInstance loads a session on first use.
//   - evict.go: eviction of idle sessions to fit the VRAM budget.
//   - unload.go: graceful drain and close of one session.
//   - infer.go: completion, chat, job and tokenizer entry points.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - metrics.go: Prometheus counters for loads and generations.
//   - events.go, eventpub_*.go: lifecycle event publishers.
//   - ops.go: background Switch behind POST /models/{id}/load.
//   - sanity.go: startup preflight checks.
//
// Generation itself is serialized by the session's context lease; the
// manager only bounds how many callers may wait for it.
package manager
