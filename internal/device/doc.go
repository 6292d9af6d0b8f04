// Package device holds the device support bindings that feed raw readings
// into input records.
package device
