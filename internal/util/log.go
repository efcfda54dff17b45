package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// The Log helpers format like fmt.Sprintf and write one line through
// pterm's default logger on stderr. Connection lines start with the
// client's "[%08x]" tag.

// LogDebug is for per-packet and teardown detail, hidden unless
// EnableDebug was called.
func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogSuccess marks a completed login or probe. pterm's logger has no
// success level, so it shares Info.
func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

// LogWarning reports a client-caused problem the server survives, such as
// a rejected login.
func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug turns on LogDebug output. The CLI calls it for --debug.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Quiet hides everything below errors. Tests use it to keep output short.
func Quiet() {
	pterm.DefaultLogger.Level = pterm.LogLevelError
}
