package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeTaskStarted, Task: Task{EntityID: "light.kitchen", Action: "off"}})

	select {
	case e := <-ch:
		if e.Type != TypeTaskStarted {
			t.Fatalf("Type = %s", e.Type)
		}
		if e.Task.EntityID != "light.kitchen" || e.Task.Action != "off" {
			t.Fatalf("Task = %+v", e.Task)
		}
		if e.Time.IsZero() {
			t.Fatal("Time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	// A full subscriber buffer must not block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeTaskCompleted, Task: Task{EntityID: "light.kitchen"}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(Event{Type: TypeTaskCancelled, Task: Task{EntityID: "light.kitchen", Reason: "user_request"}})

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
