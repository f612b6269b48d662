// Package async guards the engine's background goroutines: channel pumps,
// pipeline workers, and gateway socket loops all start through Go so a
// panic in any of them is logged with its stack instead of crashing the
// process.
package async

import (
	"runtime/debug"

	"quill/internal/logging"
)

// Go runs fn on its own goroutine, named for log correlation. A panicking
// fn is reported through logger and the goroutine exits cleanly.
func Go(logger logging.Logger, name string, fn func()) {
	logger = logging.OrNop(logger)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine %q panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn()
	}()
}
