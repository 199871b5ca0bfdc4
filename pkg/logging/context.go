package logging

import (
	"log/slog"
)

// WithJob creates a logger with job context.
// Use this to automatically include the job id in all logs for a request.
//
// Example:
//
//	log := logging.WithJob(jobID)
//	log.Info("starting acquisition")
func WithJob(jobID int32) *slog.Logger {
	return GetLogger().With("job_id", jobID)
}

// WithLock creates a logger with lock context.
// Useful for lock manager grant/wait/convert tracing.
//
// Example:
//
//	log := logging.WithLock(jobID, resourceKey)
//	log.Debug("lock granted", "mode", mode)
func WithLock(jobID int32, resourceKey string) *slog.Logger {
	return GetLogger().With("job_id", jobID, "resource", resourceKey)
}

// WithDeadlock creates a logger describing a detected wait-for cycle.
// cycle should already be formatted (e.g. "J1 -> J2 -> J1").
//
// Example:
//
//	log := logging.WithDeadlock(jobID, "7 -> 12 -> 7")
//	log.Warn("aborting requester to break cycle")
func WithDeadlock(jobID int32, cycle string) *slog.Logger {
	return GetLogger().With("job_id", jobID, "cycle", cycle)
}

// WithComponent overrides the base "component" field Init/InitDefault
// already attached, for the rare log line that originates outside the
// lock manager proper (e.g. a host process reusing this package for its
// own subsystem logging).
//
// Example:
//
//	log := logging.WithComponent("grouptable")
//	log.Info("shrink timer fired")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithError creates a logger with error context.
// Use this when logging errors to include the error in structured format.
//
// Example:
//
//	log := logging.WithError(err)
//	log.Error("operation failed", "operation", "insert")
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
