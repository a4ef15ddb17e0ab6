package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/posync/internal/pos"
)

// Default client settings.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = 500 * time.Millisecond
)

// maxErrorBody bounds how much of an error reply is kept.
const maxErrorBody = 4 << 10

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL string
	// Timeout bounds every single request.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// HTTPClient defaults to a new http.Client.
	HTTPClient *http.Client
}

// Client is an Authority reached over HTTP.
type Client struct {
	base *url.URL
	opts ClientOptions
	http *http.Client
}

var _ Authority = (*Client)(nil)

// NewClient validates opts and returns a client.
func NewClient(opts ClientOptions) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, pos.Validationf("authority", "invalid authority url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: base, opts: opts, http: hc}, nil
}

// Endpoint returns the base URL.
func (c *Client) Endpoint() string {
	return c.base.String()
}

// Health calls GET /health once, without retries.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.once(ctx, http.MethodGet, "/health", "", nil, nil)
	return err
}

// FetchCatalog calls GET /catalog.
func (c *Client) FetchCatalog(ctx context.Context, since *time.Time) (Catalog, error) {
	path := "/catalog"
	if since != nil {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	var cat Catalog
	if _, err := c.do(ctx, http.MethodGet, path, "", nil, &cat); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

// SubmitSale calls POST /sales with the local id as idempotency key.
func (c *Client) SubmitSale(ctx context.Context, sale pos.Sale) (Ack, error) {
	return c.submit(ctx, "/sales", sale.LocalID, sale)
}

// SubmitAdjustment calls POST /stock-adjustments.
func (c *Client) SubmitAdjustment(ctx context.Context, adj pos.StockAdjustment) (Ack, error) {
	return c.submit(ctx, "/stock-adjustments", adj.LocalID, adj)
}

func (c *Client) submit(ctx context.Context, path, key string, body any) (Ack, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Ack{}, fmt.Errorf("encode %s: %w", key, err)
	}
	var ack Ack
	status, err := c.do(ctx, http.MethodPost, path, key, payload, &ack)
	if err != nil {
		return Ack{}, err
	}
	if status == http.StatusConflict {
		ack.Duplicate = true
	}
	return ack, nil
}

// do retries transient failures with a fixed delay. Rejections are returned
// at once.
func (c *Client) do(ctx context.Context, method, path, key string, body []byte, out any) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying authority request",
				"method", method, "path", path, "attempt", attempt+1, "error", lastErr)
			t := time.NewTimer(c.opts.RetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return 0, pos.E(pos.KindConnectivity, method+" "+path, ctx.Err())
			case <-t.C:
			}
		}
		status, err := c.once(ctx, method, path, key, body, out)
		if err == nil || !pos.IsConnectivity(err) {
			return status, err
		}
		if ctx.Err() != nil {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// once performs a single request. 2xx and 409 decode into out.
func (c *Client) once(ctx context.Context, method, path, key string, body []byte, out any) (int, error) {
	op := method + " " + path
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, pos.E(pos.KindConnectivity, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2, resp.StatusCode == http.StatusConflict:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
				return resp.StatusCode, pos.E(pos.KindConnectivity, op, fmt.Errorf("decode response: %w", err))
			}
		}
		return resp.StatusCode, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, pos.E(pos.KindConnectivity, op, statusError(resp))
	default:
		return resp.StatusCode, pos.E(pos.KindSyncConflict, op, statusError(resp))
	}
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		if er.Message != "" {
			return fmt.Errorf("authority answered %d %s: %s", resp.StatusCode, er.Error, er.Message)
		}
		return fmt.Errorf("authority answered %d %s", resp.StatusCode, er.Error)
	}
	return fmt.Errorf("authority answered %d", resp.StatusCode)
}
