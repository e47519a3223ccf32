// Package enrich holds the per-record enrichment steps shared by the batch
// orchestrator and the trigger handler: URL discovery, fetch with search
// fallback, extraction, and mapping onto the flat record layout.
package enrich
