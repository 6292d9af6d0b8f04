// Package monitor decides which field changes of a processed record are
// significant enough to publish to subscribers.
package monitor
