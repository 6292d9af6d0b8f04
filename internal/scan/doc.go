// Package scan decides when records are processed.
//
// Requests land on one queue per priority and are served by a pool of
// workers, highest priority first. A worker holds the record's scan lock for
// exactly one processing cycle or one completion step. Periodic records are
// requested on a cron-style schedule; forward links and expired device
// completions enqueue requests without waiting.
package scan
