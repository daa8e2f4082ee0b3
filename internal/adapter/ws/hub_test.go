package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channel := Channel(strings.TrimPrefix(r.URL.Path, "/"))
		hub.Serve(w, r, channel, r.URL.Query().Get("id"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, channel Channel, conversationID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + string(channel) + "?id=" + conversationID
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	if msg := readMessage(t, c); msg.Type != "connection" {
		t.Fatalf("first message = %s, want connection", msg.Type)
	}
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func waitForConnections(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want %d", hub.ConnectionCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubRoutesEventsByChannel(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	chat := dial(t, srv, ChannelChat, "c1")
	logs := dial(t, srv, ChannelLogs, "c1")
	waitForConnections(t, hub, 2)

	hub.BroadcastEvent(context.Background(), "c1", EventLog, map[string]string{"content": "llm call"})
	hub.BroadcastEvent(context.Background(), "c1", EventMessage, map[string]string{"content": "hello"})

	if msg := readMessage(t, logs); msg.Type != EventLog {
		t.Errorf("logs channel got %s, want %s", msg.Type, EventLog)
	}
	msg := readMessage(t, chat)
	if msg.Type != EventMessage {
		t.Fatalf("chat channel got %s, want %s", msg.Type, EventMessage)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["content"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
}

func TestHubIsolatesConversations(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	a := dial(t, srv, ChannelChat, "c1")
	b := dial(t, srv, ChannelChat, "c2")
	waitForConnections(t, hub, 2)

	hub.BroadcastEvent(context.Background(), "c2", EventRunState, map[string]string{"state": "running"})
	hub.BroadcastEvent(context.Background(), "c1", EventRunState, map[string]string{"state": "completed"})

	if msg := readMessage(t, a); !strings.Contains(string(msg.Payload), "completed") {
		t.Errorf("c1 got %s, want only its own event", msg.Payload)
	}
	if msg := readMessage(t, b); !strings.Contains(string(msg.Payload), "running") {
		t.Errorf("c2 got %s", msg.Payload)
	}
}

func TestHubPingAndRelay(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	sender := dial(t, srv, ChannelChat, "c1")
	watcher := dial(t, srv, ChannelChat, "c1")
	waitForConnections(t, hub, 2)
	ctx := context.Background()

	if err := sender.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, sender); msg.Type != "pong" {
		t.Errorf("reply = %s, want pong", msg.Type)
	}

	if err := sender.Write(ctx, websocket.MessageText, []byte(`{"type":"message","role":"user","content":"hi all"}`)); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, watcher)
	if msg.Type != "message" || !strings.Contains(string(msg.Payload), "hi all") {
		t.Errorf("relayed = %+v", msg)
	}
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	c := dial(t, srv, ChannelLogs, "c1")
	waitForConnections(t, hub, 1)

	_ = c.Close(websocket.StatusNormalClosure, "bye")
	waitForConnections(t, hub, 0)

	// Broadcasting to a conversation without subscribers is a no-op.
	hub.BroadcastEvent(context.Background(), "c1", EventLog, map[string]string{"content": "x"})
}

func TestHubBroadcastMarshalError(t *testing.T) {
	hub := NewHub(nil)
	// A channel cannot be marshaled to JSON; the event is dropped.
	hub.BroadcastEvent(context.Background(), "c1", "bad", make(chan int))
}
