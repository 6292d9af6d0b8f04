// Package link resolves record input specifications.
//
// A Link is either a literal constant or a reference to a field of another
// record. References are fetched synchronously through a Target, coerced to
// the representation the caller asks for, and every failure is reported as
// ErrLinkUnavailable so that callers can turn it into a link alarm instead
// of aborting the processing cycle.
package link
