// Package database holds the record set of one engine instance.
//
// It serves reference links between records, taking the target record's
// scan lock only for the duration of one read, and builds records from YAML
// definition files.
package database
