// Package alarm contains the alarm domain of the record engine.
//
// It defines the ordered Severity scale, the Status catalogue, and the
// Arbiter that keeps exactly one (status, severity) candidate per processing
// cycle. Evaluation rules (undefined value, limit checks with hysteresis,
// change of state) are functions over the arbiter and explicit latch state,
// so record variants compose them in their own fixed order.
package alarm
