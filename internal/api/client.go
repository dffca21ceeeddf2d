package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client interface for testability
type Client interface {
	LiveData(ctx context.Context) (Metrics, error)
	TrendingGex(ctx context.Context) ([]TrendRow, error)
	RawTicks(ctx context.Context) ([]RawTick, error)
	ExpiryList(ctx context.Context) ([]string, error)
	StartStream(ctx context.Context, req StreamRequest) error
	Compute(ctx context.Context, req ComputeRequest) (Metrics, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = ratePerSec * 2
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(limit, burst),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (c *HTTPClient) LiveData(ctx context.Context) (Metrics, error) {
	var m Metrics
	err := c.do(ctx, http.MethodGet, PathLiveData, "", nil, &m)
	return m, err
}

func (c *HTTPClient) TrendingGex(ctx context.Context) ([]TrendRow, error) {
	var rows []TrendRow
	err := c.do(ctx, http.MethodGet, PathTrendingGex, "", nil, &rows)
	return rows, err
}

func (c *HTTPClient) RawTicks(ctx context.Context) ([]RawTick, error) {
	var ticks []RawTick
	err := c.do(ctx, http.MethodGet, PathRawTicks, "", nil, &ticks)
	return ticks, err
}

func (c *HTTPClient) ExpiryList(ctx context.Context) ([]string, error) {
	var expiries []string
	err := c.do(ctx, http.MethodGet, PathExpiryList, "", nil, &expiries)
	return expiries, err
}

func (c *HTTPClient) StartStream(ctx context.Context, req StreamRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding stream request: %w", err)
	}
	return c.do(ctx, http.MethodPost, PathStartStream, "application/json", body, nil)
}

func (c *HTTPClient) Compute(ctx context.Context, req ComputeRequest) (Metrics, error) {
	if req.File == nil {
		return Metrics{}, errors.New("compute request has no file")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := req.FileName
	if name == "" {
		name = "upload.xlsx"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Metrics{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return Metrics{}, fmt.Errorf("reading compute file: %w", err)
	}
	for _, f := range req.fields() {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return Metrics{}, fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return Metrics{}, fmt.Errorf("closing multipart body: %w", err)
	}

	var m Metrics
	err = c.do(ctx, http.MethodPost, PathCompute, mw.FormDataContentType(), buf.Bytes(), &m)
	return m, err
}

// do sends one request, retrying transport errors, 429 and 5xx up to retryCount
// times with exponential backoff. out may be nil when the body is ignored.
func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	url := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", url))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = ErrRateLimited
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: server error %d", ErrUnexpectedStatus, resp.StatusCode)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
