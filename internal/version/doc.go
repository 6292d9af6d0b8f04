// Package version exposes build metadata of the procdb binaries.
//
// Version, Commit and BuildTime are injected at build time via ldflags.
package version
