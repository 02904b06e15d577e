// Package logx wraps zerolog behind a small structured-logging API
// whose level can be re-applied at runtime from a config reload.
package logx
