// Package logging provides structured logging configuration for chatd.
//
// This package wraps log/slog to provide consistent logging across all chatd
// components. It supports configurable log levels and output formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//
//	logger.Info("server started", "addr", ":8080")
//	logger.Error("failed to publish", "conversation", id, "error", err)
//
// # Integration
//
// Components accept a *slog.Logger in their constructor. If no logger is
// provided they fall back to logging.Nop(). The HTTP layer stores a
// request-scoped logger in the context; resolvers retrieve it with
// FromContext so their entries carry the request id.
package logging
