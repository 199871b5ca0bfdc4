// Package logging provides a process-wide structured logger for the lock
// manager.
//
// The package wraps [log/slog] and exposes a single global logger instance
// that is initialized once and then retrieved via GetLogger. All subsystems
// should obtain a logger through this package rather than constructing their
// own slog.Logger values, so that log level and output destination are
// controlled from a single place.
//
// # Initialisation
//
// Call Init (or InitDefault for sensible defaults) once at program startup,
// before any goroutines that might call GetLogger are spawned:
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug}); err != nil {
//	    log.Fatal(err)
//	}
//
// InitDefault writes INFO-level logs to stdout without a log file. Every
// record from either path carries a base "component" field (DefaultComponent,
// "lockmgr", unless Config.Component overrides it).
//
// # Retrieving the logger
//
//	logger := logging.GetLogger()
//	logger.Info("group table allocated", "size", size)
//
// If GetLogger is called before Init, a default stdout logger is created
// lazily (via sync.Once) so that packages that log during init are safe.
//
// # Context helpers
//
// Several helpers return child loggers pre-populated with structured fields,
// reducing repetition in hot paths:
//
//	log := logging.WithJob(jobID)             // adds job_id field
//	log := logging.WithLock(jobID, resource)  // adds job_id and resource fields
//	log := logging.WithDeadlock(jobID, cycle) // adds job_id and cycle fields
package logging
