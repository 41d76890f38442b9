// internal/sender/client.go
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tenant-broadcast/internal/metrics"
	"tenant-broadcast/internal/model"
)

var ErrInvalidRecipient = errors.New("invalid recipient number")

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Options struct {
	BaseURL    string
	RatePerSec int
	Timeout    time.Duration
}

// Client talks to the WhatsApp provider's HTTP API. All tenants share its
// outbound rate limit.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider url %q must be absolute", opts.BaseURL)
	}

	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		now:     time.Now,
	}, nil
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		ID        string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

// SendText delivers one text message through the tenant's instance.
func (c *Client) SendText(ctx context.Context, instanceName, apiKey, recipient, body string) (model.SendResult, error) {
	number, err := NormalizeNumber(recipient)
	if err != nil {
		return model.SendResult{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return model.SendResult{}, fmt.Errorf("wait for provider rate limit: %w", err)
	}

	payload, err := json.Marshal(sendTextRequest{Number: number, Text: body})
	if err != nil {
		return model.SendResult{}, fmt.Errorf("encode send request: %w", err)
	}

	endpoint := c.baseURL.JoinPath("message", "sendText", instanceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return model.SendResult{}, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", apiKey)

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return model.SendResult{}, fmt.Errorf("send to %s: %w", number, err)
	}
	defer resp.Body.Close()
	metrics.ProviderRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.SendResult{}, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.SendResult{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out sendTextResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return model.SendResult{}, fmt.Errorf("decode provider response: %w", err)
		}
	}
	return model.SendResult{
		MessageID: out.Key.ID,
		Recipient: number,
		Status:    out.Status,
		SentAt:    c.now(),
	}, nil
}

// NormalizeNumber strips everything but digits and checks E.164 length.
func NormalizeNumber(s string) (string, error) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if len(n) < 8 || len(n) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRecipient, s)
	}
	return n, nil
}
