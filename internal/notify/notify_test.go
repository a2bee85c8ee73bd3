package notify_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chandeldivyam/samwise/internal/notify"
)

func TestMulti_FanOut(t *testing.T) {
	a := notify.NewCollector(4)
	b := notify.NewCollector(4)
	m := notify.NewMulti(a)
	m.Add(b)

	m.Notify(context.Background(), notify.NewEvent(notify.RecordingStarted, "rec-1"))
	m.Notify(context.Background(), notify.NewEvent(notify.RecordingStopped, "rec-1"))

	for name, c := range map[string]*notify.Collector{"a": a, "b": b} {
		kinds := c.Kinds()
		if len(kinds) != 2 || kinds[0] != notify.RecordingStarted || kinds[1] != notify.RecordingStopped {
			t.Errorf("%s: kinds = %v", name, kinds)
		}
	}
}

func TestFunc(t *testing.T) {
	var got notify.Event
	n := notify.Func(func(_ context.Context, ev notify.Event) { got = ev })
	n.Notify(context.Background(), notify.NewEvent(notify.RecordingProcessed, "rec-9"))
	if got.Kind != notify.RecordingProcessed || got.RecordingID != "rec-9" {
		t.Errorf("got %+v", got)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// Wait for registration before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Notify(ctx, notify.NewEvent(notify.RecordingProcessed, "rec-42"))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev notify.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != notify.RecordingProcessed || ev.RecordingID != "rec-42" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := notify.NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Close()

	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want StatusGoingAway (err %v)", websocket.CloseStatus(err), err)
	}
	if hub.Clients() != 0 {
		t.Errorf("clients = %d, want 0", hub.Clients())
	}
}
