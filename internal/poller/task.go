// Package poller runs named repeating tasks whose activation is decided by a
// predicate over the session snapshot.
package poller

import (
	"context"
	"time"

	"github.com/dgnsrekt/gexlive/internal/session"
)

// Kind names a poller. At most one run per kind is active at any instant.
type Kind string

const (
	KindQuoteSnapshot   Kind = "quoteSnapshot"
	KindTrendingHistory Kind = "trendingHistory"
	KindTickStream      Kind = "tickStream"
	KindCountdown       Kind = "countdown"
)

// Action performs one cycle. seq increases monotonically per kind across
// activations so results can be ordered by the consumer.
type Action func(ctx context.Context, seq uint64) error

// Predicate decides whether a task should be running for the given snapshot.
type Predicate func(session.Snapshot) bool

// KeyFunc identifies the parameters an active run was started against.
// When the key changes while the task is active, the run is restarted.
type KeyFunc func(session.Snapshot) string

// Task is one entry of the registry.
type Task struct {
	Kind      Kind
	Interval  time.Duration
	Predicate Predicate
	Key       KeyFunc
	Action    Action

	// Inline runs the action on the loop goroutine. Use it for local work that
	// never blocks; network actions run on their own goroutine so a slow response
	// never delays the next tick.
	Inline bool

	// Deferred skips the immediate run on activation; the first run happens one
	// interval later.
	Deferred bool

	// OnStart is called every time the task transitions Idle→Active.
	OnStart func()
}

// Always is a predicate that is always true.
func Always(session.Snapshot) bool { return true }

// HasInstrument is true when symbol and expiry are both set.
func HasInstrument(s session.Snapshot) bool { return s.Params.HasInstrument() }

// Streaming is true when the server-side capture runs and the instrument is known.
func Streaming(s session.Snapshot) bool { return s.Streaming && s.Params.HasInstrument() }

// InstrumentKey restarts a task whenever symbol or expiry change.
func InstrumentKey(s session.Snapshot) string {
	return s.Params.Symbol + "|" + s.Params.Expiry
}

// State is the externally visible status of one poller.
type State struct {
	Kind      Kind          `json:"kind"`
	Active    bool          `json:"active"`
	Interval  time.Duration `json:"interval"`
	Since     time.Time     `json:"since,omitempty"`
	Runs      uint64        `json:"runs"`
	LastError string        `json:"lastError,omitempty"`
}
