// Package async provides panic-safe goroutine helpers for fire-and-forget
// work such as audit recording.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

// SafeGo executes a function in a goroutine with panic recovery, a
// timeout, and error logging. Use this instead of a bare `go func()`.
// The task is detached from the parent context's cancellation so request
// completion does not abort it.
func SafeGo(logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("recovered from panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("background task failed")
		}
	}()
}
