// Package config defines the settings used by the procdb binaries and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills in defaults for every optional field, so a file holding
// only server_addr is a complete configuration.
package config
