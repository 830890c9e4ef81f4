// Package logging configures structured logging for randchat.
//
// Every binary calls Setup once; packages then log through For, which tags records with
// the component that produced them:
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	log := logging.For("transport")
//	log.Info("connected", "endpoint", url)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Environment variables read by FromEnv.
const (
	EnvLevel  = "RANDCHAT_LOG_LEVEL"
	EnvFormat = "RANDCHAT_LOG_FORMAT"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // default: os.Stderr, so the terminal client keeps stdout for chat
}

// FromEnv fills unset fields of opts from RANDCHAT_LOG_LEVEL / RANDCHAT_LOG_FORMAT.
func FromEnv(opts Options) Options {
	if opts.Level == "" {
		opts.Level = os.Getenv(EnvLevel)
	}
	if opts.Format == "" {
		opts.Format = os.Getenv(EnvFormat)
	}
	return opts
}

// ParseLevel converts a level name to slog.Level. Unrecognized values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default slog logger.
func Setup(opts Options) error {
	if err := Validate(opts.Level); err != nil {
		return err
	}
	if err := validateFormat(opts.Format); err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// For returns the default logger tagged with component=name. It resolves the default
// logger at call time, so call it after Setup.
func For(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// LevelNames returns all valid level names, useful for --help text.
func LevelNames() string {
	return "debug, info, warn, error"
}

// Validate returns an error if the level string is not recognized.
func Validate(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error", "":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (valid: %s)", level, LevelNames())
	}
}

func validateFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", format)
	}
}
