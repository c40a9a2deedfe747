package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"quicktimerd/internal/homeassistant"
	logx "quicktimerd/pkg/logx"
)

func TestNotifyDeliversBanner(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var calls []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		calls = append(calls, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ha := homeassistant.NewClient(homeassistant.ClientConfig{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	svc, err := New(Config{Enabled: true, RatePerSec: 100}, ha, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	svc.Notify(Notification{Title: "Scheduled: OFF for light.kitchen", Message: "Will execute at 09:20:00", HA: true})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("banner call not delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls[0]["title"] != "Scheduled: OFF for light.kitchen" {
		t.Fatalf("title = %v", calls[0]["title"])
	}
}

func TestNotifyDefaultsToBannerWhenNoChannelSet(t *testing.T) {
	t.Parallel()
	done := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case done <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ha := homeassistant.NewClient(homeassistant.ClientConfig{BaseURL: ts.URL, Token: "tok"}, logx.Nop())
	svc, err := New(Config{Enabled: true, RatePerSec: 100}, ha, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	svc.Notify(Notification{Title: "Cancelled: light.kitchen", Message: "Scheduled action was cancelled"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("banner fallback not delivered")
	}
}

func TestNotifyQueueOverflowDropsWithoutBlocking(t *testing.T) {
	t.Parallel()
	ha := homeassistant.NewClient(homeassistant.ClientConfig{BaseURL: "http://127.0.0.1:1"}, logx.Nop())
	svc, err := New(Config{Enabled: true, QueueSize: 1}, ha, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Fill the queue without a running worker; extra sends must drop fast.
	svc.queue = make(chan Notification, 1)
	svc.queue <- Notification{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			svc.Notify(Notification{Title: "overflow"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	if svc.Dropped() == 0 {
		t.Fatal("drop counter not incremented")
	}
}

func TestNotifyBeforeStartIsNoOp(t *testing.T) {
	t.Parallel()
	ha := homeassistant.NewClient(homeassistant.ClientConfig{BaseURL: "http://127.0.0.1:1"}, logx.Nop())
	svc, err := New(Config{Enabled: true}, ha, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.Notify(Notification{Title: "ignored"})
	if svc.Dropped() != 0 {
		t.Fatal("pre-start notify must not count as a drop")
	}
}
