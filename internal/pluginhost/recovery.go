package pluginhost

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// safeGo runs fn in its own goroutine and recovers any panic instead of
// letting it take down the host process, logging the stack trace and
// invoking onPanic with the recovered value.
func safeGo(logger *slog.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", fmt.Sprint(r),
						"stack", string(debug.Stack()),
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
