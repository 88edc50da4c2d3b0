// Package notification delivers domain events to the external notification
// service as signed HTTP callbacks.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the hex HMAC of the request body.
const SignatureHeader = "X-Settlement-Signature"

// DefaultRetryIntervals is the delay before each redelivery attempt.
var DefaultRetryIntervals = []time.Duration{
	15 * time.Second,
	60 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the target and signing secret. An empty URL makes the
// notifier log-only.
type Config struct {
	URL            string
	Secret         string
	RetryIntervals []time.Duration
}

// HTTPNotifier implements ports.Notifier.
type HTTPNotifier struct {
	cfg        Config
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	log        zerolog.Logger
	sleep      func(context.Context, time.Duration) bool
	wg         sync.WaitGroup
}

// NewHTTPNotifier creates a notifier. A nil RetryIntervals uses DefaultRetryIntervals.
func NewHTTPNotifier(cfg Config, sigSvc ports.SignatureService, httpClient HTTPClient, log zerolog.Logger) *HTTPNotifier {
	if cfg.RetryIntervals == nil {
		cfg.RetryIntervals = DefaultRetryIntervals
	}
	return &HTTPNotifier{
		cfg:        cfg,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		log:        log,
		sleep:      sleepCtx,
	}
}

// Notify sends the event asynchronously with retries. Delivery failures are
// logged and never reported to the caller.
func (n *HTTPNotifier) Notify(ctx context.Context, event domain.NotificationEvent) {
	logEvent := n.log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", string(event.Type)).
		Str("vendor_id", event.VendorID.String())
	if n.cfg.URL == "" {
		logEvent.Msg("notification: no url configured, logged only")
		return
	}
	logEvent.Msg("notification: queued")

	body, err := json.Marshal(event)
	if err != nil {
		n.log.Error().Err(err).Str("event_id", event.ID.String()).Msg("notification: failed to marshal event")
		return
	}
	signature := n.sigSvc.Sign(n.cfg.Secret, body)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverWithRetries(context.WithoutCancel(ctx), body, signature, event)
	}()
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (n *HTTPNotifier) Wait() {
	n.wg.Wait()
}

func (n *HTTPNotifier) deliverWithRetries(ctx context.Context, body []byte, signature string, event domain.NotificationEvent) {
	eventID := event.ID.String()
	for attempt := 0; attempt <= len(n.cfg.RetryIntervals); attempt++ {
		if attempt > 0 && !n.sleep(ctx, n.cfg.RetryIntervals[attempt-1]) {
			n.log.Warn().Str("event_id", eventID).Msg("notification: delivery abandoned")
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
		if err != nil {
			n.log.Error().Err(err).Str("event_id", eventID).Msg("notification: failed to create request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(SignatureHeader, signature)
		req.Header.Set("X-Event-Type", string(event.Type))

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.log.Warn().Err(err).Str("event_id", eventID).Int("attempt", attempt+1).Msg("notification: delivery failed")
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			n.log.Info().Str("event_id", eventID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notification: delivered")
			return
		}
		n.log.Warn().Str("event_id", eventID).Int("attempt", attempt+1).Int("status", resp.StatusCode).Msg("notification: non-2xx response, retrying")
	}

	n.log.Error().Str("event_id", eventID).Msg("notification: all retry attempts exhausted")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
