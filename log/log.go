// Package log provides the one named, structured logger per subsystem that
// every other dragit package pulls a sub-logger from, instead of each
// package reaching for the standard library's log package directly.
package log

import (
	logging "github.com/ipfs/go-log/v2"
)

// Named returns a logger scoped to subsystem name, e.g. "swarm", "transfer".
// Repeated calls with the same name return loggers backed by the same
// underlying zap core, so subsystem log levels can be tuned independently
// with SetLogLevel.
func Named(subsystem string) *logging.ZapEventLogger {
	return logging.Logger("dragit/" + subsystem)
}

// SetLevel sets the log level for a single subsystem logger created via
// Named. Passing "*" sets the level for every subsystem registered so far.
func SetLevel(subsystem, level string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return err
	}
	if subsystem == "*" {
		logging.SetAllLoggers(lvl)
		return nil
	}
	logging.SetLogLevel("dragit/"+subsystem, level)
	return nil
}
