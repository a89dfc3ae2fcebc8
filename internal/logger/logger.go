package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "tss-relay").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// WebSocket creates a logger for connection lifecycle events (upgrade,
// disconnect, ping/pong).
func WebSocket() *zerolog.Logger {
	l := Log.With().Str("component", "websocket").Logger()
	return &l
}

// RPC creates a logger for the request/notify dispatch pipeline.
func RPC() *zerolog.Logger {
	l := Log.With().Str("component", "rpc").Logger()
	return &l
}

// Broadcast creates a logger for the fan-out dispatcher.
func Broadcast() *zerolog.Logger {
	l := Log.With().Str("component", "broadcast").Logger()
	return &l
}

// Store creates a logger for the in-memory state store.
func Store() *zerolog.Logger {
	l := Log.With().Str("component", "store").Logger()
	return &l
}

// Cluster creates a logger for the optional cross-instance relay.
func Cluster() *zerolog.Logger {
	l := Log.With().Str("component", "cluster").Logger()
	return &l
}

// HTTP creates a logger for the plain HTTP surface (static assets and the
// upgrade handshake) — distinct from RPC, which logs frames after the
// connection has already switched protocols.
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
