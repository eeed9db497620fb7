// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries request- and job-scoped loggers on
// context.Context so stores and pipeline stages log with the caller's attributes.
package logger
