package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier is the interface for sending session notifications.
type Notifier interface {
	StreamStarted(ctx context.Context, ev StreamEvent) error
	StreamFailed(ctx context.Context, ev StreamEvent, err error) error
	BatchFinished(ctx context.Context, s BatchSummary, duration time.Duration) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// StreamStarted sends a notification after the collaborator accepted a stream.
func (c *Client) StreamStarted(ctx context.Context, ev StreamEvent) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Live stream started: %s %s", ev.Symbol, ev.Expiry)
	tags := c.config.Tags + ",white_check_mark"
	return c.send(ctx, title, FormatStreamMessage(ev, nil), tags, c.config.Priority)
}

// StreamFailed sends a failure notification.
func (c *Client) StreamFailed(ctx context.Context, ev StreamEvent, err error) error {
	if !c.config.Enabled {
		return nil
	}

	title := fmt.Sprintf("Live stream failed: %s %s", ev.Symbol, ev.Expiry)
	tags := c.config.Tags + ",x"
	priority := "high" // Override to high priority for failures
	return c.send(ctx, title, FormatStreamMessage(ev, err), tags, priority)
}

// BatchFinished sends a summary of a batch compute run.
func (c *Client) BatchFinished(ctx context.Context, s BatchSummary, duration time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	title := "Batch compute complete"
	tags := c.config.Tags + ",white_check_mark"
	priority := c.config.Priority
	if s.Failed > 0 {
		title = "Batch compute finished with failures"
		tags = c.config.Tags + ",warning"
		priority = "high"
	}
	return c.send(ctx, title, FormatBatchMessage(s, duration), tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", strings.TrimPrefix(tags, ","))

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) StreamStarted(_ context.Context, _ StreamEvent) error { return nil }

func (n *NoopNotifier) StreamFailed(_ context.Context, _ StreamEvent, _ error) error { return nil }

func (n *NoopNotifier) BatchFinished(_ context.Context, _ BatchSummary, _ time.Duration) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
