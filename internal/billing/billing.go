// Package billing implements usage metering for streamed responses and
// the settlement hand-off to the background worker.
//
// Non-streaming requests are charged inline by the pipeline. Streamed
// requests cannot be: the token usage is only known when the upstream
// finishes (or the client walks away), so a StreamMeter rides along the
// chunk channel and releases a Settlement exactly once when the stream
// ends, for any definition of ends.
package billing

import (
	"github.com/himmiroute/himmi/internal/storage"
)

// Settlement is a deferred charge: the fully priced Charge plus what the
// settlement worker needs to backfill the request's log row.
type Settlement struct {
	Charge storage.Charge
}

// Settler accepts settlements for asynchronous application. Implementations
// must not block; a full queue drops with a log line rather than stalling
// the response path.
type Settler interface {
	Settle(s Settlement)
}

// SettlerFunc adapts a function to the Settler interface.
type SettlerFunc func(Settlement)

// Settle calls f(s).
func (f SettlerFunc) Settle(s Settlement) { f(s) }
