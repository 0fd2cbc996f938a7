// Package logging centralizes fwavc's use of charmbracelet/log.
//
// Every component that the spec requires to "log and continue" (the
// Topology Parser on a per-object failure, the packet processor on a DBC
// discontinuity, the orchestrator on overrun/no-data) pulls its logger from
// here rather than constructing its own, so a host application gets one
// consistent stream with a "component" field it can filter on.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// Default is the package-wide logger. Host applications may reassign it
// (or call SetLevel) before using fwavc.
var Default = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// For returns a logger scoped to one component name, e.g. For("topology").
func For(component string) *log.Logger {
	return Default.With("component", component)
}

// SetLevel adjusts the verbosity of the default logger.
func SetLevel(level log.Level) {
	Default.SetLevel(level)
}
