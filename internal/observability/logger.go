// Package observability sets up logging and tracing for the binaries.
package observability

import (
	"strings"

	"github.com/pterm/pterm"
)

// ParseLevel maps a LOG_LEVEL value to a pterm level. Supported values:
// trace, debug, info, warn, error, fatal, plus silly and verbose as
// aliases of trace and debug. Unknown values fall back to info.
func ParseLevel(level string) pterm.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "silly":
		return pterm.LogLevelTrace
	case "debug", "verbose":
		return pterm.LogLevelDebug
	case "info":
		return pterm.LogLevelInfo
	case "warn", "warning":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	case "fatal":
		return pterm.LogLevelFatal
	default:
		return pterm.LogLevelInfo
	}
}

// NewLogger returns the default logger at the given level.
func NewLogger(level string) *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(ParseLevel(level))
}
