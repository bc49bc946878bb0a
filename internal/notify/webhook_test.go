package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testAlert() Alert {
	return Alert{
		Kind:      KindBreakerTripped,
		SubjectID: "user-1",
		Reason:    "confidence 0.40 below threshold 0.60",
		CreatedAt: time.Now(),
	}
}

func TestWebhookDelivers(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL}, nil)
	s.Notify(context.Background(), testAlert())

	if got.Kind != KindBreakerTripped || got.SubjectID != "user-1" {
		t.Errorf("delivered alert = %+v", got)
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, Retries: 3}, nil)
	s.Notify(context.Background(), testAlert())

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", calls.Load())
	}
}

func TestWebhookGivesUpAfterBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, Retries: 2}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Notify(context.Background(), testAlert())
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sink blocked instead of failing open")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls.Load())
	}
}

func TestWebhookStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewWebhookSink(WebhookConfig{URL: srv.URL, Retries: 10}, nil)
	s.Notify(ctx, testAlert())

	if calls.Load() > 1 {
		t.Errorf("calls = %d after cancellation, want at most 1", calls.Load())
	}
}

func TestFanout(t *testing.T) {
	var a, b atomic.Int32
	sinkA := sinkFunc(func(context.Context, Alert) { a.Add(1) })
	sinkB := sinkFunc(func(context.Context, Alert) { b.Add(1) })

	Fanout{sinkA, sinkB}.Notify(context.Background(), testAlert())

	if a.Load() != 1 || b.Load() != 1 {
		t.Errorf("fanout delivered a:%d b:%d, want 1 each", a.Load(), b.Load())
	}
}

type sinkFunc func(context.Context, Alert)

func (f sinkFunc) Notify(ctx context.Context, alert Alert) { f(ctx, alert) }
