package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/taskforce/comms"
)

func TestHub_StreamsBusMessages(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeSSE))
	defer srv.Close()
	defer hub.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "data: ") {
				return strings.TrimPrefix(l, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if got := next(); got != `{"type":"connected"}` {
		t.Fatalf("first event = %s", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus := comms.NewInMemoryBus()
	bus.Subscribe(comms.Wildcard, hub.Handle)
	msg := comms.NewMessage(comms.TypeTaskUpdate, "orchestrator", "", "task queued", "sweep")
	if err := bus.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var ev struct {
		Type    string        `json:"type"`
		Payload comms.Message `json:"payload"`
	}
	if err := json.Unmarshal([]byte(next()), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != string(comms.TypeTaskUpdate) {
		t.Errorf("event type = %q, want task_update", ev.Type)
	}
	if ev.Payload.ID != msg.ID {
		t.Errorf("payload id = %q, want %q", ev.Payload.ID, msg.ID)
	}
}

func TestHub_CloseEndsStreams(t *testing.T) {
	hub := NewHub(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)

	done := make(chan struct{})
	go func() {
		hub.ServeSSE(rr, req)
		close(done)
	}()
	hub.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeSSE did not return after Close")
	}
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d after close, want 0", hub.Clients())
	}
}

func TestHub_AgentFilterAndFrameFields(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeSSE))
	defer srv.Close()
	defer hub.Close()

	resp, err := http.Get(srv.URL + "?agent_id=agent-a")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	skipped := comms.NewMessage(comms.TypeDirect, "lead", "agent-b", "", "not for a")
	wanted := comms.NewMessage(comms.TypeDirect, "lead", "agent-a", "", "for a")
	hub.Handle(context.Background(), skipped)
	hub.Handle(context.Background(), wanted)

	lines := bufio.NewScanner(resp.Body)
	var id string
	for id == "" && lines.Scan() {
		if l := lines.Text(); strings.HasPrefix(l, "id: ") {
			id = strings.TrimPrefix(l, "id: ")
		}
	}
	if id != wanted.ID {
		t.Fatalf("first frame id = %q, want %q", id, wanted.ID)
	}
	if !lines.Scan() || lines.Text() != "event: direct" {
		t.Errorf("event line = %q, want event: direct", lines.Text())
	}
}

func TestHub_KeepAlive(t *testing.T) {
	hub := NewHub(nil)
	hub.KeepAlive = 10 * time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeSSE))
	defer srv.Close()
	defer hub.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	for lines.Scan() {
		if lines.Text() == ": ping" {
			return
		}
	}
	t.Fatalf("stream ended without a ping: %v", lines.Err())
}
