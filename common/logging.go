package common

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// LoggingOpts configures the process logger.
type LoggingOpts struct {
	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// JSON selects the JSON handler instead of the tinted console handler.
	JSON bool

	// Service is attached as a "service" attribute when set.
	Service string

	// Version is attached as a "version" attribute when set.
	Version string
}

// SetupLogger builds the process-wide slog logger. All components receive
// children of this logger through their constructors.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	} else {
		log = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: logLevel}))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}

	return log
}
