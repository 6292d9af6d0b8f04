// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a sane console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The record engine, the scheduler and the transport accept a context and
// extract the logger from it, so every processing cycle logs with the name
// of the component that drove it.
package logger
