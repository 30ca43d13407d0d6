// Package engine runs projbuild end to end.
//
// A run maps the tree into a dependency graph, validates that it is acyclic,
// converts every project and builds the graph in dependency order. Results
// are persisted as reports and per-project state.
//
// The implementation is split across files:
//   - pipeline.go: the run itself
//   - factory.go: default dependencies and overrides
//   - safegroup.go: panic-safe goroutine group used by watch mode
package engine
