// Package subscription fans monitor events out to subscribers.
//
// The hub implements record.Sink. Publishing never blocks the processing
// cycle: a subscriber whose queue is full loses the event and the drop is
// counted.
package subscription
