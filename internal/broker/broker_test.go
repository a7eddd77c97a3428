package broker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

func TestBusPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()

	chA, cancelA := bus.Subscribe()
	defer cancelA()
	chB, cancelB := bus.Subscribe()
	defer cancelB()

	if got := bus.SubscriberCount(); got != 2 {
		t.Fatalf("expected 2 subscribers, got %d", got)
	}

	bus.Publish(Event{Topic: WorkTopic, WorkID: "w1", Type: "work.completed"})

	for _, ch := range []<-chan Event{chA, chB} {
		select {
		case evt := <-ch:
			if evt.WorkID != "w1" {
				t.Fatalf("expected work id w1, got %q", evt.WorkID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published event")
		}
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Flood well past subscriberBuffer without ever draining ch; a
	// publisher that blocked here would hang the test.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			bus.Publish(Event{Topic: WorkTopic, Type: "work.progress"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
	_ = ch
}

func TestCancelClosesChannelAndRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}
}

func TestWSHandlerRelaysPublishedEvents(t *testing.T) {
	bus := NewBus()
	handler := NewWSHandler(bus, arbor.NewLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler's goroutine time to register its subscription
	// before we publish, since Publish drops to subscribers with no
	// synchronization point against Subscribe.
	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(Event{Topic: WorkTopic, WorkID: "w42", Type: "work.completed"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.WorkID != "w42" {
		t.Fatalf("expected work id w42, got %q", evt.WorkID)
	}
}
