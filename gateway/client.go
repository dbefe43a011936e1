package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paygate/pkg/payerr"
	"paygate/pkg/signature"
)

const DefaultTimeout = 15 * time.Second

// Client posts to provider APIs and flattens the JSON reply. Every failure
// (transport, timeout, non-2xx, undecodable body) is ErrGatewayUnavailable.
type Client struct {
	HTTP    *http.Client
	Timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (c *Client) PostJSON(ctx context.Context, endpoint string, body any) (signature.Fields, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode request: %w", err)
	}
	return c.post(ctx, endpoint, "application/json", bytes.NewReader(b))
}

func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (signature.Fields, error) {
	return c.post(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

func (c *Client) post(ctx context.Context, endpoint, contentType string, body io.Reader) (signature.Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payerr.ErrGatewayUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payerr.ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", payerr.ErrGatewayUnavailable, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", payerr.ErrGatewayUnavailable, endpoint, res.StatusCode)
	}
	f, err := signature.FromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payerr.ErrGatewayUnavailable, err)
	}
	return f, nil
}
