package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

type holderSource struct {
	*viewmodel.Holder
}

func (s holderSource) View() viewmodel.View { return s.Render(nil) }

type event struct {
	name string
	id   string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) event {
	t.Helper()
	var ev event
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestBroadcasterPushesViews(t *testing.T) {
	holder := viewmodel.NewHolder(60, zap.NewNop())
	b := New(holderSource{holder}, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readEvent(t, r)
	assert.Equal(t, "snapshot", first.name)
	assert.Equal(t, "0", first.id)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	holder.ApplyQuote(1, viewmodel.Metrics{SummaryText: "Market Sentiment: Mildly Bullish"})

	next := readEvent(t, r)
	assert.Equal(t, "view", next.name)
	assert.Equal(t, "1", next.id)

	var view viewmodel.View
	require.NoError(t, json.Unmarshal([]byte(next.data), &view))
	assert.Equal(t, "Mildly Bullish", view.Sentiment)
	assert.Equal(t, uint64(1), view.Version)
}

func TestBroadcasterDropsDisconnectedClients(t *testing.T) {
	holder := viewmodel.NewHolder(60, zap.NewNop())
	b := New(holderSource{holder}, time.Hour, zap.NewNop())

	server := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	readEvent(t, bufio.NewReader(resp.Body))
	require.Equal(t, 1, b.ClientCount())

	cancel()
	resp.Body.Close()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
