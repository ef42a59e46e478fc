// Package postmark delivers email through the Postmark REST API.
package postmark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/domain/recipient"
	"github.com/inkwire/inkwire/internal/notify"
)

const (
	defaultSendTimeout  = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultMaxInterval  = 2 * time.Second
	serverTokenHeader   = "X-Postmark-Server-Token"
	defaultPostmarkBase = "https://api.postmarkapp.com"
)

// Config carries the connection settings for one Postmark server.
type Config struct {
	BaseURL     string
	ServerToken string
	Sender      string
	// SendTimeout bounds a single delivery attempt, retries included
	// individually. Zero means defaultSendTimeout.
	SendTimeout time.Duration
	// MaxAttempts caps delivery attempts per recipient. Zero means
	// defaultMaxAttempts.
	MaxAttempts int
	// RequestsPerSecond throttles outbound API calls. Zero disables the
	// limiter.
	RequestsPerSecond float64
}

// Client sends transactional email through Postmark. It implements
// notify.Notifier; transient upstream failures are retried with exponential
// backoff before the send is reported failed.
type Client struct {
	http        *http.Client
	baseURL     string
	token       string
	sender      string
	sendTimeout time.Duration
	maxAttempts int
	limiter     *rate.Limiter
}

// NewClient constructs a Client from cfg. The HTTP client may be nil, in
// which case http.DefaultClient semantics apply with the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("postmark: server token required")
	}
	if _, err := recipient.Parse(cfg.Sender); err != nil {
		return nil, fmt.Errorf("postmark: invalid sender: %w", err)
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultPostmarkBase
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		http:        httpClient,
		baseURL:     base,
		token:       cfg.ServerToken,
		sender:      cfg.Sender,
		sendTimeout: timeout,
		maxAttempts: attempts,
		limiter:     limiter,
	}, nil
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send implements notify.Notifier.
func (c *Client) Send(ctx context.Context, to recipient.EmailAddress, msg notify.Message) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       to.String(),
		Subject:  msg.Title,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return errs.New("postmark", errs.CodeDelivery,
			errs.WithMessage("encode send request"), errs.WithCause(err))
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = defaultMaxInterval

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = defaultMaxInterval
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}

		retryable, err := c.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return errs.New("postmark", errs.CodeDelivery,
		errs.WithMessage("send email"),
		errs.WithField("recipient", to.String()),
		errs.WithCause(lastErr))
}

// attempt performs one API call. The bool reports whether the failure is
// transient and worth retrying.
func (c *Client) attempt(ctx context.Context, payload []byte) (bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(serverTokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network-level failures are retried unless the caller gave up.
		if ctx.Err() != nil {
			return false, err
		}
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("postmark: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests, err
}

var _ notify.Notifier = (*Client)(nil)
