// Package logging provides structured logging for the quorum daemon.
//
// The package wraps Go's log/slog with a JSON handler. Every entry is a
// single JSON object so logs from concurrent scheduler goroutines can be
// filtered by task, worker or proposal after the fact.
//
// # Context Propagation
//
// Child loggers inherit the parent's attributes:
//
//	logger, err := logging.NewLogger(dir, "info", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithTask(t.ID)
//	taskLog.WithWorker(workerID).Info("assignment committed", "proposal_id", pid)
//
// Produces:
//
//	{"time":"...","level":"INFO","msg":"assignment committed","task_id":"...","worker_id":"w-1","proposal_id":"..."}
//
// # Levels
//
// DEBUG, INFO, WARN and ERROR are supported. The level is held in a
// slog.LevelVar shared by a logger and all its children, so SetLevel takes
// effect immediately everywhere; the serve command uses this when the
// config file changes.
//
// # Rotation
//
// When a directory is given, output goes through a RotatingWriter that
// renames quorum.log to quorum.log.1 (shifting older backups) once the file
// would exceed MaxSizeMB, optionally gzipping the rotated file.
//
// # Testing
//
// Use NopLogger() to discard output, or NewWriterLogger(&buf, "debug") to
// capture entries for assertions.
package logging
