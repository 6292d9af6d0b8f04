// Package common holds helpers shared by the procdb binaries.
//
// It provides a gRPC client wrapper with call timeouts and an audit actor,
// and a guard that keeps a second server instance from starting.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
