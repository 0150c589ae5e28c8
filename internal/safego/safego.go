// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered
// and logged rather than crashing the process. Fire-and-forget work that
// runs outside a request (audit log shipping, periodic chain verification)
// goes through this so a panic cannot silently kill the goroutine or take
// the server down with it.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
