// Package completion owns the per-record timers that finish asynchronous
// processing cycles.
//
// A Context is created when a record is initialized and is reused across
// cycles. Device support arms it with Schedule; when the timer expires the
// bridge hands the record back to the scheduler through Reentry, and the
// scheduler finishes the cycle under the record's scan lock. Release cancels
// a pending timer and guarantees that no later callback reaches Reentry.
package completion
