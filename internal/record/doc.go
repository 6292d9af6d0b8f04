// Package record implements the Record Core of the process database.
//
// A Record holds the live state shared by every record type: the busy flag
// of the in-flight processing cycle, the committed alarm status and
// severity, the monitor markers and the forward link. The type-specific
// behavior lives behind the Variant capability interface.
//
// Core drives one processing cycle:
//
//	Idle -> Running(sync)           -> Idle
//	Idle -> Running(awaitingDevice) -> Idle
//
// Process starts a cycle; if the variant reports Pending the record stays
// busy until the completion bridge calls Complete, which finishes the same
// cycle without re-issuing the device request. A finished cycle is
// timestamped, arbitrated, published to the Sink, and the forward link is
// handed to the Scheduler as an independent request.
//
// Every method that touches record state expects the caller to hold the
// record's scan lock (Lock/Unlock).
package record
