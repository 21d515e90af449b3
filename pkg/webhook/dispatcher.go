// Package webhook implements the outbound webhook contract of spec.md §6:
// a best-effort POST of a meeting's terminal state to the URL configured
// in its Config.WebhookURL, with bounded retries and a circuit breaker
// per destination host so one unreachable endpoint cannot stall dispatch
// for every other meeting sharing this supervisor.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/vexa-ai/meetbotd/pkg/metrics"
	"github.com/vexa-ai/meetbotd/pkg/models"
)

// Payload is the JSON body posted to a webhook URL.
type Payload struct {
	MeetingID        string `json:"meeting_id"`
	Platform         string `json:"platform"`
	NativeMeetingID  string `json:"native_meeting_id"`
	Status           string `json:"status"`
	CompletionReason string `json:"completion_reason,omitempty"`
	FailureStage     string `json:"failure_stage,omitempty"`
	ErrorDetails     string `json:"error_details,omitempty"`
}

// Dispatcher posts outbound webhooks. It satisfies
// pkg/supervisor.WebhookDispatcher.
type Dispatcher struct {
	client     *http.Client
	maxRetries uint64

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New creates a Dispatcher. maxRetries bounds the backoff retry loop per
// delivery attempt (not a count of redeliveries across separate calls).
func New(maxRetries uint64) *Dispatcher {
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Dispatcher{
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: maxRetries,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Dispatch sends meeting's terminal state to webhookURL on a detached
// goroutine; the caller never blocks on delivery. Matches the teacher's
// fire-and-forget Slack notification posture, generalized to an arbitrary
// customer endpoint instead of a fixed Slack channel.
func (d *Dispatcher) Dispatch(ctx context.Context, webhookURL string, meeting *models.Meeting) {
	go d.deliver(webhookURL, meeting)
}

func (d *Dispatcher) deliver(webhookURL string, meeting *models.Meeting) {
	payload := Payload{
		MeetingID:        meeting.MeetingID,
		Platform:         string(meeting.Platform),
		NativeMeetingID:  meeting.NativeMeetingID,
		Status:           string(meeting.Status),
		CompletionReason: meeting.Envelope.CompletionReason,
		FailureStage:     meeting.Envelope.FailureStage,
		ErrorDetails:     meeting.Envelope.ErrorDetails,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("webhook payload marshal failed", "meeting_id", meeting.MeetingID, "error", err)
		return
	}

	breaker := d.breakerFor(webhookURL)
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries)

	_, err = breaker.Execute(func() (any, error) {
		return nil, backoff.Retry(func() error {
			return d.post(webhookURL, body)
		}, bo)
	})
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failure").Inc()
		slog.Warn("webhook delivery failed", "meeting_id", meeting.MeetingID, "url", webhookURL, "error", err)
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
}

func (d *Dispatcher) post(webhookURL string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err // network errors are retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// breakerFor returns the circuit breaker for webhookURL's host, creating
// one on first use. Keyed by host rather than full URL so multiple
// meetings posting to the same customer endpoint share trip state.
func (d *Dispatcher) breakerFor(webhookURL string) *gobreaker.CircuitBreaker {
	host := webhookURL
	if u, err := url.Parse(webhookURL); err == nil && u.Host != "" {
		host = u.Host
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook-" + host,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
	})
	d.breakers[host] = b
	return b
}
