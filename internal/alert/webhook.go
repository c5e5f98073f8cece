package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Ledger-Signature"

// WebhookEvent is the JSON body posted to each webhook URL.
type WebhookEvent struct {
	Type     string    `json:"type"`
	Severity Severity  `json:"severity"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	RaisedAt time.Time `json:"raised_at"`
}

// WebhookNotifier posts alerts to a fixed set of URLs, signing each body
// with a shared secret.
type WebhookNotifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	delays     []time.Duration // wait before each retry
	logger     *zap.Logger
}

// NewWebhookNotifier creates a WebhookNotifier. Each delivery is tried up to
// three times, waiting 1s then 5s between attempts.
func NewWebhookNotifier(urls []string, secret string, logger *zap.Logger) (*WebhookNotifier, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one webhook URL is required")
	}
	return &WebhookNotifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{time.Second, 5 * time.Second},
		logger:     logger,
	}, nil
}

// Notify delivers the alert to every URL and returns the joined errors of
// the URLs that never accepted it.
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(WebhookEvent{
		Type:     "ledger.alert",
		Severity: a.Severity,
		Subject:  a.Subject,
		Body:     a.Body,
		RaisedAt: a.RaisedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	signature := SignPayload(body, n.secret)

	var errs []error
	for _, url := range n.urls {
		if err := n.deliver(ctx, url, body, signature); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", url, err))
		}
	}
	return errors.Join(errs...)
}

// deliver posts body to url, retrying on failure.
func (n *WebhookNotifier) deliver(ctx context.Context, url string, body []byte, signature string) error {
	var lastErr error
	for attempt := 0; attempt <= len(n.delays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(n.delays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = n.post(ctx, url, body, signature)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("alert webhook delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// SignPayload computes the signature receivers should compare against
// SignatureHeader.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

// Notify calls every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
