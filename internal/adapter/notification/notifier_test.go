package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testEvent() domain.NotificationEvent {
	auctionID := uuid.New()
	return domain.NotificationEvent{
		ID:         uuid.New(),
		Type:       domain.EventAuctionWon,
		VendorID:   uuid.New(),
		AuctionID:  &auctionID,
		Amount:     250000,
		OccurredAt: time.Now().UTC(),
	}
}

func noRetries() []time.Duration { return []time.Duration{} }

func TestHTTPNotifier_DeliversSignedEvent(t *testing.T) {
	sigSvc := service.NewHMACSignatureService("sha512")
	type received struct {
		body      []byte
		signature string
		eventType string
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get(SignatureHeader), eventType: r.Header.Get("X-Event-Type")}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(Config{URL: srv.URL, Secret: "notify-secret", RetryIntervals: noRetries()}, sigSvc, srv.Client(), newTestLogger())
	event := testEvent()
	n.Notify(context.Background(), event)
	n.Wait()

	select {
	case r := <-got:
		assert.True(t, sigSvc.Verify("notify-secret", r.body, r.signature))
		assert.Equal(t, "auction.won", r.eventType)

		var decoded domain.NotificationEvent
		require.NoError(t, json.Unmarshal(r.body, &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, int64(250000), decoded.Amount)
	default:
		t.Fatal("notification not delivered")
	}
}

func TestHTTPNotifier_RetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	client := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		n := attempts.Add(1)
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		if n == 2 {
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}

	n := NewHTTPNotifier(Config{URL: "https://notify.example.com/events", Secret: "s",
		RetryIntervals: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}},
		service.NewHMACSignatureService("sha512"), client, newTestLogger())

	n.Notify(context.Background(), testEvent())
	n.Wait()

	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPNotifier_GivesUpAfterSchedule(t *testing.T) {
	var attempts atomic.Int32
	client := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		attempts.Add(1)
		return &http.Response{StatusCode: http.StatusInternalServerError, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}

	n := NewHTTPNotifier(Config{URL: "https://notify.example.com/events",
		RetryIntervals: []time.Duration{time.Millisecond, time.Millisecond}},
		service.NewHMACSignatureService("sha512"), client, newTestLogger())

	n.Notify(context.Background(), testEvent())
	n.Wait()

	assert.Equal(t, int32(3), attempts.Load(), "initial attempt plus one per retry interval")
}

func TestHTTPNotifier_NoURL_LogOnly(t *testing.T) {
	client := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected without a url")
		return nil, nil
	}}

	n := NewHTTPNotifier(Config{}, service.NewHMACSignatureService("sha512"), client, newTestLogger())
	n.Notify(context.Background(), testEvent())
	n.Wait()
}

func TestHTTPNotifier_CancelledCallerContextStillDelivers(t *testing.T) {
	delivered := make(chan struct{}, 1)
	client := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		delivered <- struct{}{}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	}}

	n := NewHTTPNotifier(Config{URL: "https://notify.example.com/events", RetryIntervals: noRetries()},
		service.NewHMACSignatureService("sha512"), client, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, testEvent())
	n.Wait()

	select {
	case <-delivered:
	default:
		t.Fatal("notification should outlive the request context")
	}
}
