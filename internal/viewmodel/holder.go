package viewmodel

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultCountdownStart is the value the countdown wraps back to.
const DefaultCountdownStart = 60

// Update is published to subscribers after every change.
type Update struct {
	Version uint64
	Model   ViewModel
}

// Holder owns the process-wide ViewModel. Responses from one poller kind are
// ordered by their dispatch sequence; a response older than the last applied
// one for the same kind is discarded.
type Holder struct {
	mu             sync.RWMutex
	vm             ViewModel
	version        uint64
	lastQuote      uint64
	lastTrending   uint64
	countdownStart int
	logger         *zap.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Update
}

// NewHolder creates an empty holder whose countdown starts at countdownStart.
func NewHolder(countdownStart int, logger *zap.Logger) *Holder {
	if countdownStart < 1 {
		countdownStart = DefaultCountdownStart
	}
	return &Holder{
		vm: ViewModel{
			Series:    map[string][]Point{},
			Countdown: countdownStart,
		},
		countdownStart: countdownStart,
		logger:         logger,
		subs:           make(map[int]chan Update),
	}
}

// Model returns a copy of the current view model and its version.
func (h *Holder) Model() (ViewModel, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyModel(h.vm), h.version
}

// Render returns the current view with series hidden per visible.
func (h *Holder) Render(visible map[string]bool) View {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Render(h.vm, visible, h.version)
}

// ApplyQuote merges a quote snapshot dispatched with seq. It reports false
// when the response is stale.
func (h *Holder) ApplyQuote(seq uint64, m Metrics) bool {
	return h.mutate(func() bool {
		if seq <= h.lastQuote {
			h.logger.Debug("discarding stale quote snapshot",
				zap.Uint64("seq", seq), zap.Uint64("applied", h.lastQuote))
			return false
		}
		h.lastQuote = seq
		h.vm = ApplyMetrics(h.vm, m)
		return true
	})
}

// ApplyCompute merges a manual compute result. It follows the quote rule but
// is not sequenced against the live poller.
func (h *Holder) ApplyCompute(m Metrics) {
	h.mutate(func() bool {
		h.vm = ApplyMetrics(h.vm, m)
		return true
	})
}

// ApplyTrending replaces the trending rows. It reports false when the
// response is stale.
func (h *Holder) ApplyTrending(seq uint64, rows []TrendRow) bool {
	return h.mutate(func() bool {
		if seq <= h.lastTrending {
			h.logger.Debug("discarding stale trending history",
				zap.Uint64("seq", seq), zap.Uint64("applied", h.lastTrending))
			return false
		}
		h.lastTrending = seq
		h.vm = ApplyTrending(h.vm, rows)
		return true
	})
}

// TickCountdown decrements the countdown, wrapping from 1 back to the start value.
func (h *Holder) TickCountdown() int {
	var c int
	h.mutate(func() bool {
		if h.vm.Countdown <= 1 {
			h.vm.Countdown = h.countdownStart
		} else {
			h.vm.Countdown--
		}
		c = h.vm.Countdown
		return true
	})
	return c
}

// ResetCountdown sets the countdown back to its start value.
func (h *Holder) ResetCountdown() {
	h.mutate(func() bool {
		if h.vm.Countdown == h.countdownStart {
			return false
		}
		h.vm.Countdown = h.countdownStart
		return true
	})
}

// SetExpiries stores the expiry list offered to the user.
func (h *Holder) SetExpiries(expiries []string) {
	h.mutate(func() bool {
		h.vm.Expiries = append([]string(nil), expiries...)
		return true
	})
}

// SetStatus shows a transient status message.
func (h *Holder) SetStatus(msg string) {
	h.mutate(func() bool {
		if h.vm.StatusMessage == msg {
			return false
		}
		h.vm.StatusMessage = msg
		return true
	})
}

// ClearStatus clears the status message only if it is still msg.
func (h *Holder) ClearStatus(msg string) {
	h.mutate(func() bool {
		if h.vm.StatusMessage != msg || msg == "" {
			return false
		}
		h.vm.StatusMessage = ""
		return true
	})
}

// Touch publishes the current model again, e.g. after a render setting changed.
func (h *Holder) Touch() {
	h.mutate(func() bool { return true })
}

// Subscribe returns a channel of updates. Updates are dropped for slow consumers.
func (h *Holder) Subscribe(bufSize int) (int, <-chan Update) {
	ch := make(chan Update, bufSize)
	h.subsMu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch
	h.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Holder) Unsubscribe(id int) {
	h.subsMu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.subsMu.Unlock()
}

func (h *Holder) mutate(fn func() bool) bool {
	h.mu.Lock()
	if !fn() {
		h.mu.Unlock()
		return false
	}
	h.version++
	u := Update{Version: h.version, Model: copyModel(h.vm)}
	h.mu.Unlock()

	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- u:
		default:
		}
	}
	return true
}

func copyModel(vm ViewModel) ViewModel {
	out := vm
	out.Series = cloneSeries(vm.Series)
	out.GammaWallStrike = cloneFloat(vm.GammaWallStrike)
	out.Spot = cloneFloat(vm.Spot)
	out.RollingGexMa = cloneFloat(vm.RollingGexMa)
	out.TrendingRows = append([]TrendRow(nil), vm.TrendingRows...)
	out.Expiries = append([]string(nil), vm.Expiries...)
	return out
}
