package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// Source renders the current view and notifies on change.
type Source interface {
	View() viewmodel.View
	Subscribe(bufSize int) (int, <-chan viewmodel.Update)
	Unsubscribe(id int)
}

// Summary is the compact payload of the summary group.
type Summary struct {
	Sentiment       string   `json:"sentiment"`
	Spot            *float64 `json:"spot,omitempty"`
	GammaWallStrike *float64 `json:"gammaWallStrike,omitempty"`
	Countdown       int      `json:"countdown"`
	StatusMessage   string   `json:"statusMessage,omitempty"`
}

// Streamer forwards view model updates to the hub groups.
type Streamer struct {
	hub    *Hub
	source Source
	logger *zap.Logger
}

// NewStreamer creates a new Streamer.
func NewStreamer(hub *Hub, source Source, logger *zap.Logger) *Streamer {
	return &Streamer{hub: hub, source: source, logger: logger}
}

// Run starts the forwarding loop. Call in a goroutine.
// Returns when context is cancelled.
func (s *Streamer) Run(ctx context.Context) {
	id, updates := s.source.Subscribe(16)
	defer s.source.Unsubscribe(id)

	s.logger.Info("streamer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("streamer stopping")
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.broadcast()
		}
	}
}

// broadcast renders once and sends to every active group.
func (s *Streamer) broadcast() {
	groups := s.hub.GetActiveGroups()
	if len(groups) == 0 {
		return
	}

	view := s.source.View()
	for _, group := range groups {
		var payload any
		switch group {
		case GroupView:
			payload = view
		case GroupSummary:
			payload = Summary{
				Sentiment:       view.Sentiment,
				Spot:            view.Spot,
				GammaWallStrike: view.GammaWallStrike,
				Countdown:       view.Countdown,
				StatusMessage:   view.StatusMessage,
			}
		default:
			continue
		}

		data, err := toMap(payload)
		if err != nil {
			s.logger.Error("failed to convert payload", zap.String("group", group), zap.Error(err))
			continue
		}
		s.hub.BroadcastData(group, view.Version, data)
	}
}
