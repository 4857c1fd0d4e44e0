package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/responder"
	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Secpipeline-Signature"

// DefaultRetryDelays is the wait before each attempt: immediate, 1s, 5s.
var DefaultRetryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// RetryDelays overrides DefaultRetryDelays; its length is the attempt count.
	RetryDelays []time.Duration
}

// WebhookSink POSTs signed notifications to a single endpoint. Deliveries
// run in the background; Close waits for in-flight ones.
type WebhookSink struct {
	url        string
	secret     string
	delays     []time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, logger *zap.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delays := cfg.RetryDelays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	return &WebhookSink{
		url:        cfg.URL,
		secret:     cfg.Secret,
		delays:     delays,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// Notify implements Sink. Only completed and failed results are sent.
func (s *WebhookSink) Notify(ctx context.Context, res *responder.ActionResult) {
	typ := TypeFor(res)
	if typ == "" {
		return
	}
	n := Notification{Type: typ, Timestamp: s.now().UTC(), Result: res}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Deliver(context.WithoutCancel(ctx), n); err != nil {
			s.logger.Error("webhook: giving up",
				zap.String("event_id", res.EventID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for background deliveries to finish.
func (s *WebhookSink) Close() {
	s.wg.Wait()
}

// Deliver sends n synchronously, retrying on failure.
func (s *WebhookSink) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	signature := Sign(body, s.secret)

	var lastErr string
	for attempt, delay := range s.delays {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		success, errMsg := s.doDelivery(ctx, body, signature)
		metrics.RecordNotification(success)
		if success {
			return nil
		}
		lastErr = errMsg

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", s.url),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %s", len(s.delays), lastErr)
}

func (s *WebhookSink) doDelivery(ctx context.Context, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
