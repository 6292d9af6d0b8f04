// Package state implements autosave of settable record fields.
//
// Capture reads the fields every variant marks as settable, the
// FileRepository stores them as protobuf JSON, and Restore writes them back
// into a freshly built database before scanning starts.
package state
