// Package client implements the procdb-cli operations.
//
// Each operation loads the settings, dials the record server and renders
// the response to the configured output.
package client
