package realtime

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func TestSSEHubReconnectAndOrdering(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := SessionChannel(uuid.New())

	clientA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientA, channel)

	first := SSEMessage{Channel: channel, Event: SSEEventStageStarted, Data: map[string]any{"stage": 1}}
	second := SSEMessage{Channel: channel, Event: SSEEventStageCompleted, Data: map[string]any{"stage": 1}}
	hub.Broadcast(first)
	hub.Broadcast(second)

	gotFirst := recvMessage(t, clientA.Outbound, time.Second)
	gotSecond := recvMessage(t, clientA.Outbound, time.Second)
	if gotFirst.Event != SSEEventStageStarted {
		t.Fatalf("first event: want=%s got=%s", SSEEventStageStarted, gotFirst.Event)
	}
	if gotSecond.Event != SSEEventStageCompleted {
		t.Fatalf("second event: want=%s got=%s", SSEEventStageCompleted, gotSecond.Event)
	}

	hub.CloseClient(clientA)
	select {
	case _, ok := <-clientA.Outbound:
		if ok {
			t.Fatalf("clientA outbound should be closed after disconnect")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for clientA channel close")
	}

	clientB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(clientB, channel)
	reconnect := SSEMessage{Channel: channel, Event: SSEEventSessionDone, Data: map[string]any{"stage": 3}}
	hub.Broadcast(reconnect)
	gotReconnect := recvMessage(t, clientB.Outbound, time.Second)
	if gotReconnect.Event != SSEEventSessionDone {
		t.Fatalf("reconnect event: want=%s got=%s", SSEEventSessionDone, gotReconnect.Event)
	}
}

func TestSSEHubChannelIsolation(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	sessionA := SessionChannel(uuid.New())
	sessionB := SessionChannel(uuid.New())

	watcherA := hub.NewSSEClient(uuid.New())
	hub.AddChannel(watcherA, sessionA)
	watcherB := hub.NewSSEClient(uuid.New())
	hub.AddChannel(watcherB, sessionB)

	hub.Broadcast(SSEMessage{Channel: sessionA, Event: SSEEventSeatSettled, Data: map[string]any{"seat": 0}})

	got := recvMessage(t, watcherA.Outbound, time.Second)
	if got.Channel != sessionA {
		t.Fatalf("channel = %s, want %s", got.Channel, sessionA)
	}
	select {
	case leaked := <-watcherB.Outbound:
		t.Fatalf("watcherB received foreign event %s", leaked.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEHubSlowClientLosesMessagesNotHub(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	channel := SessionChannel(uuid.New())
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, channel)

	total := cap(client.Outbound) + 5
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			hub.Broadcast(SSEMessage{Channel: channel, Event: SSEEventSeatSettled, Data: map[string]any{"seq": i}})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	if n := len(client.Outbound); n != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want full buffer %d", n, cap(client.Outbound))
	}
}
