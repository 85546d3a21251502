// Package testutil provides test utilities for dynalloc, including:
//   - Miniredis helpers for store, queue and scheduler tests (miniredis.go)
//   - A stub EffectiveNodeMetrics for allocation tests (metrics.go)
//   - Campaign definition and lattice fixtures (fixtures.go)
//
// None of the helpers need Docker; they work with a plain go test.
package testutil
