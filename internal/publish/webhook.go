// Package publish delivers emitted signals to an external webhook. The
// body is the canonical JSON of the signal and an HMAC-SHA256 signature
// over those exact bytes rides in X-Omen-Signature, so receivers can
// authenticate without re-canonicalizing.
package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omenworks/omen/internal/domain"
)

const (
	headerSignature = "X-Omen-Signature"
	headerSignalID  = "X-Omen-Signal-ID"
	headerRuleset   = "X-Omen-Ruleset"
)

// Config points the publisher at a webhook endpoint.
type Config struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// DefaultConfig tries three times with a doubling backoff off 500ms.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
	}
}

// Webhook posts signals to a single endpoint with bounded retries.
type Webhook struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
	sleep  func(context.Context, time.Duration) error
}

// Option customizes a Webhook.
type Option func(*Webhook)

// WithHTTPClient replaces the transport, for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Webhook) { w.client = client }
}

// WithSleep replaces the inter-attempt wait, for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Webhook) { w.sleep = sleep }
}

// NewWebhook builds the publisher. cfg.URL is required; zero retry and
// timeout values fall back to defaults.
func NewWebhook(cfg Config, logger zerolog.Logger, opts ...Option) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, &domain.ConfigError{Field: "webhook.url", Reason: "required"}
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	w := &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Publish delivers one signal. Network errors, 429 and 5xx retry with
// doubling backoff; other 4xx responses fail immediately. Exhausted or
// aborted deliveries return a *domain.PublishError carrying the attempt
// count.
func (w *Webhook) Publish(ctx context.Context, signal domain.OmenSignal) error {
	body, err := domain.CanonicalJSON(signal)
	if err != nil {
		return fmt.Errorf("publish %s: %w", signal.SignalID, err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.sleep(ctx, w.backoff(attempt-1)); err != nil {
				return &domain.PublishError{Attempts: attempt - 1, Err: err}
			}
		}
		retryable, err := w.deliver(ctx, signal, body)
		if err == nil {
			if attempt > 1 {
				w.logger.Info().
					Str("signal_id", signal.SignalID).
					Int("attempt", attempt).
					Msg("webhook delivered after retry")
			}
			return nil
		}
		lastErr = err
		w.logger.Warn().
			Err(err).
			Str("signal_id", signal.SignalID).
			Int("attempt", attempt).
			Msg("webhook delivery failed")
		if !retryable {
			return &domain.PublishError{Attempts: attempt, Err: err}
		}
	}
	return &domain.PublishError{Attempts: w.cfg.MaxAttempts, Err: lastErr}
}

func (w *Webhook) deliver(ctx context.Context, signal domain.OmenSignal, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignalID, signal.SignalID)
	req.Header.Set(headerRuleset, signal.RulesetVersion)
	if w.cfg.Secret != "" {
		req.Header.Set(headerSignature, Sign(w.cfg.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return true, fmt.Errorf("webhook status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook status %d", resp.StatusCode)
	}
}

func (w *Webhook) backoff(retry int) time.Duration {
	return w.cfg.BackoffBase * time.Duration(1<<uint(retry-1))
}

// Sign computes the X-Omen-Signature value for a payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches body under secret, in constant
// time.
func Verify(secret string, body []byte, sig string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(sig))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
