package broadcast

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func testBroadcaster() *Broadcaster {
	return NewBroadcaster(Config{
		KeepaliveInterval: time.Hour, // Keep keepalives out of the way
		SubscriberBuffer:  16,
	}, testMetrics(), testLogger())
}

func collect(ch <-chan Event, n int, timeout time.Duration) []Event {
	events := make([]Event, 0, n)
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			return events
		}
	}
	return events
}

func TestSubscribeReceivesConnectedThenSnapshot(t *testing.T) {
	b := testBroadcaster()
	defer b.Close()

	current := "hello world"
	b.OpenTopic("s1", func() string { return current })

	ch, cancel, err := b.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	events := collect(ch, 2, time.Second)
	if len(events) != 2 {
		t.Fatalf("Expected 2 catch-up events, got %d", len(events))
	}

	if events[0].Type != EventConnected {
		t.Errorf("Expected connected first, got %s", events[0].Type)
	}

	if events[1].Type != EventSnapshot {
		t.Errorf("Expected snapshot second, got %s", events[1].Type)
	}

	if events[1].Transcript != "hello world" {
		t.Errorf("Snapshot must carry the current transcript, got %q", events[1].Transcript)
	}
}

func TestSubscribeWithTinyBufferDoesNotBlock(t *testing.T) {
	// A one-slot buffer cannot hold both catch-up events; the constructor
	// must widen it so Subscribe never stalls holding the topic mutex.
	b := NewBroadcaster(Config{
		KeepaliveInterval: time.Hour,
		SubscriberBuffer:  1,
	}, testMetrics(), testLogger())
	defer b.Close()

	b.OpenTopic("s1", func() string { return "partial transcript" })

	type result struct {
		ch     <-chan Event
		cancel func()
		err    error
	}
	done := make(chan result, 1)
	go func() {
		ch, cancel, err := b.Subscribe(context.Background(), "s1")
		done <- result{ch: ch, cancel: cancel, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Subscribe failed: %v", res.err)
		}
		defer res.cancel()
		events := collect(res.ch, 2, time.Second)
		if len(events) != 2 {
			t.Fatalf("Expected 2 catch-up events, got %d", len(events))
		}
		// The topic mutex must be free again for publishes.
		b.Publish("s1", Event{Type: EventTranscript, Text: "more"})
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe blocked with a one-slot buffer")
	}
}

func TestLateSubscriberCatchesUp(t *testing.T) {
	b := testBroadcaster()
	defer b.Close()

	transcript := ""
	b.OpenTopic("s1", func() string { return transcript })

	// Three updates happen before anyone subscribes; they are dropped.
	for i, word := range []string{"one", "two", "three"} {
		if transcript != "" {
			transcript += " "
		}
		transcript += word
		b.Publish("s1", Event{Type: EventTranscript, Text: word, Sequence: uint64(i + 1), Transcript: transcript})
	}

	ch, cancel, err := b.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	events := collect(ch, 2, time.Second)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	if events[1].Type != EventSnapshot || events[1].Transcript != "one two three" {
		t.Errorf("Late subscriber must see the full transcript, got %+v", events[1])
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := testBroadcaster()
	defer b.Close()

	b.OpenTopic("s1", func() string { return "" })

	ch1, cancel1, _ := b.Subscribe(context.Background(), "s1")
	defer cancel1()
	ch2, cancel2, _ := b.Subscribe(context.Background(), "s1")
	defer cancel2()

	collect(ch1, 2, time.Second)
	collect(ch2, 2, time.Second)

	b.Publish("s1", Event{Type: EventTranscript, Text: "update", Sequence: 1})

	for i, ch := range []<-chan Event{ch1, ch2} {
		events := collect(ch, 1, time.Second)
		if len(events) != 1 || events[0].Type != EventTranscript {
			t.Errorf("Subscriber %d missed the update: %+v", i+1, events)
		}
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	b := testBroadcaster()
	defer b.Close()

	b.OpenTopic("s1", func() string { return "" })

	// No subscriber attached; must not block or panic.
	b.Publish("s1", Event{Type: EventTranscript, Text: "lost"})
	b.Publish("unknown", Event{Type: EventTranscript, Text: "nowhere"})
}

func TestFinishDeliversTerminalAndCloses(t *testing.T) {
	b := testBroadcaster()

	b.OpenTopic("s1", func() string { return "final text" })

	ch, _, err := b.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	collect(ch, 2, time.Second)

	b.Finish("s1", Event{Type: EventEnded, Transcript: "final text"})

	events := collect(ch, 1, time.Second)
	if len(events) != 1 || events[0].Type != EventEnded {
		t.Fatalf("Expected terminal ended event, got %+v", events)
	}

	// Channel must be closed after the terminal event.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected closed channel after terminal event")
		}
	case <-time.After(time.Second):
		t.Error("Channel not closed after Finish")
	}

	// Second Finish is a no-op, not a panic or duplicate.
	b.Finish("s1", Event{Type: EventEnded})

	if _, _, err := b.Subscribe(context.Background(), "s1"); err != ErrNoTopic {
		t.Errorf("Expected ErrNoTopic after finish, got %v", err)
	}
}

func TestKeepaliveEmitted(t *testing.T) {
	b := NewBroadcaster(Config{
		KeepaliveInterval: 20 * time.Millisecond,
		SubscriberBuffer:  16,
	}, testMetrics(), testLogger())
	defer b.Close()

	b.OpenTopic("s1", func() string { return "" })

	ch, cancel, _ := b.Subscribe(context.Background(), "s1")
	defer cancel()
	collect(ch, 2, time.Second)

	events := collect(ch, 1, time.Second)
	if len(events) != 1 || events[0].Type != EventKeepalive {
		t.Errorf("Expected a keepalive event, got %+v", events)
	}
}

func TestSubscriberContextDetaches(t *testing.T) {
	b := testBroadcaster()
	defer b.Close()

	b.OpenTopic("s1", func() string { return "" })

	ctx, cancelCtx := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	collect(ch, 2, time.Second)

	cancelCtx()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if b.SubscriberCount("s1") != 0 {
					t.Errorf("Expected 0 subscribers, got %d", b.SubscriberCount("s1"))
				}
				return
			}
		case <-deadline:
			t.Fatal("Channel not closed after context cancellation")
		}
	}
}
