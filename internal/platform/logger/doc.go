// Package logger sets up the process-wide JSON slog logger and carries
// request or delivery scoped loggers through context.Context.
package logger
