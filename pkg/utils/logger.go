package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// Log encodings accepted by LogOptions.Format.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// LogOptions selects the logger built by NewLogger.
type LogOptions struct {
	// Debug enables debug level, caller stack traces on warnings and development defaults.
	Debug bool
	// Format is LogFormatJSON or LogFormatConsole. Empty picks console for Debug and JSON
	// otherwise.
	Format string
}

// NewLogger returns a zap logger writing to stderr, so stdout stays free for command output.
// Every entry carries service=kura.
func NewLogger(opts LogOptions) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
	}
	switch opts.Format {
	case "":
	case LogFormatJSON, LogFormatConsole:
		cfg.Encoding = opts.Format
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build(zap.Fields(zap.String("service", "kura")))
}
