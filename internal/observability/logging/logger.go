// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// Init initializes the global zerolog logger.
func Init(cfg Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "meeting-scribe").
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithDevice returns a logger with capture device context.
func WithDevice(component, deviceID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("deviceId", deviceID).
		Logger()
}

// WithSegment returns a logger with segment context.
func WithSegment(component string, segmentID uint64) zerolog.Logger {
	return log.With().
		Str("component", component).
		Uint64("segmentId", segmentID).
		Logger()
}

// WithSpeaker returns a logger with speaker identity context.
func WithSpeaker(component, speakerID string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("speakerId", speakerID).
		Logger()
}
