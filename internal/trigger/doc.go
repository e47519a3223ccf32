// Package trigger implements the store-driven enrichment path. A write that
// moves a record into PENDING_SCRAPE produces a change event; the Dispatcher
// hands it to one of a fixed number of workers, and the Handler enriches the
// record and writes the outcome back. The Reaper recovers records left in
// SCRAPING by a process that died mid-run.
package trigger
