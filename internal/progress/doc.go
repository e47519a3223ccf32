// Package progress carries enrichment milestones from the batch orchestrator
// and the trigger handler to pluggable sinks. Events are batched on a
// background goroutine so emitters never block on logging, metrics, or the
// run repository.
package progress
