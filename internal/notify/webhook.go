// Package notify delivers commit notifications to webhook URLs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Event is the payload sent to webhook URLs.
type Event struct {
	Event     string `json:"event"`
	Database  string `json:"database"`
	Sequence  int    `json:"sequence"`
	Timestamp string `json:"timestamp"`
}

// Config holds the configured webhook URLs.
type Config struct {
	URLs []string
}

// Subscriber is the part of the persistence manager the notifier hooks into.
type Subscriber interface {
	OnAllObjectsPersisted(fn func())
}

// WebhookNotifier sends HTTP POST notifications after successful commits.
type WebhookNotifier struct {
	config   *Config
	database string
	client   *http.Client
	logger   *slog.Logger
	retry    *RetryConfig

	mu       sync.Mutex
	sequence int
	pending  sync.WaitGroup
}

// Option configures a WebhookNotifier.
type Option func(*WebhookNotifier)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(wn *WebhookNotifier) { wn.client = c }
}

// WithRetryConfig sets the retry policy for failed deliveries.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(wn *WebhookNotifier) { wn.retry = cfg }
}

// NewWebhookNotifier creates a notifier for commits to database. Returns nil
// if no URLs are configured.
func NewWebhookNotifier(cfg *Config, database string, logger *slog.Logger, opts ...Option) *WebhookNotifier {
	if cfg == nil || len(cfg.URLs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	wn := &WebhookNotifier{
		config:   cfg,
		database: database,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(wn)
	}
	return wn
}

// Subscribe registers the notifier to run after every successful commit of s.
func (wn *WebhookNotifier) Subscribe(s Subscriber) {
	if wn == nil {
		return
	}
	s.OnAllObjectsPersisted(wn.NotifyPersisted)
}

// NotifyPersisted sends a persisted event to all configured URLs.
// Runs asynchronously; Wait blocks until delivery finished.
func (wn *WebhookNotifier) NotifyPersisted() {
	if wn == nil {
		return
	}

	wn.mu.Lock()
	wn.sequence++
	event := &Event{
		Event:     "persisted",
		Database:  wn.database,
		Sequence:  wn.sequence,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	wn.mu.Unlock()

	wn.pending.Add(1)
	go func() {
		defer wn.pending.Done()
		if err := wn.send(context.Background(), event); err != nil {
			wn.logger.Warn("webhook: delivery failed", "error", err)
		}
	}()
}

// Wait blocks until all notifications sent so far were delivered or gave up.
func (wn *WebhookNotifier) Wait() {
	if wn == nil {
		return
	}
	wn.pending.Wait()
}

// send delivers event to all configured URLs concurrently and returns the
// first delivery error.
func (wn *WebhookNotifier) send(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var g errgroup.Group
	for _, url := range wn.config.URLs {
		g.Go(func() error {
			if err := wn.post(ctx, url, data); err != nil {
				return err
			}
			wn.logger.Debug("webhook: delivered", "url", url, "event", event.Event, "sequence", event.Sequence)
			return nil
		})
	}
	return g.Wait()
}

// post sends a single webhook POST, retrying transient failures.
func (wn *WebhookNotifier) post(ctx context.Context, url string, data []byte) error {
	return wn.retry.retry(ctx, "post "+url, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "persistctl/1.0")

		resp, err := wn.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Status: resp.StatusCode}
		}
		return nil
	})
}
