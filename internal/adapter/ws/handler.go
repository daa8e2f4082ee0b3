// Package ws implements the per-conversation WebSocket adapter for live
// chat turns and execution log streaming.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Channel separates chat subscribers from log subscribers of one conversation.
type Channel string

const (
	ChannelChat Channel = "chat"
	ChannelLogs Channel = "logs"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type topic struct {
	channel        Channel
	conversationID string
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	topic  topic
	cancel context.CancelFunc
}

// Hub fans events out to the subscribers of each conversation.
type Hub struct {
	mu      sync.RWMutex
	topics  map[topic]map[*conn]struct{}
	origins []string
}

// NewHub creates a new WebSocket hub. origins lists the allowed Origin
// patterns; an empty list accepts same-origin requests only.
func NewHub(origins []string) *Hub {
	return &Hub{
		topics:  make(map[topic]map[*conn]struct{}),
		origins: origins,
	}
}

// Serve upgrades the request and subscribes it to one conversation channel.
// It returns when the client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, channel Channel, conversationID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, topic: topic{channel: channel, conversationID: conversationID}, cancel: cancel}
	h.add(c)
	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	slog.Info("websocket connected", "channel", channel, "conversation_id", conversationID, "remote", r.RemoteAddr)
	h.send(ctx, c, "connection", map[string]string{"status": "connected", "conversation_id": conversationID})

	go h.keepAlive(ctx, c)
	h.readLoop(ctx, c)
}

// clientMessage is what subscribers may send.
type clientMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Role      string `json:"role,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (h *Hub) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(ctx, c, "error", map[string]string{"error": "invalid message"})
			continue
		}
		switch {
		case msg.Type == "ping":
			h.send(ctx, c, "pong", nil)
		case msg.Type == "subscribe":
			h.send(ctx, c, "subscribed", map[string]string{"conversation_id": c.topic.conversationID})
		case msg.Type == "message" && c.topic.channel == ChannelChat:
			h.publish(ctx, c.topic, "message", msg)
		}
	}
}

func (h *Hub) keepAlive(ctx context.Context, c *conn) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.send(ctx, c, "ping", nil)
		}
	}
}

// BroadcastEvent sends a typed event to the subscribers of a conversation.
// Log events go to the logs channel, everything else to the chat channel.
func (h *Hub) BroadcastEvent(ctx context.Context, conversationID, eventType string, payload any) {
	channel := ChannelChat
	if eventType == EventLog {
		channel = ChannelLogs
	}
	h.publish(ctx, topic{channel: channel, conversationID: conversationID}, eventType, payload)
}

func (h *Hub) publish(ctx context.Context, t topic, eventType string, payload any) {
	data, err := encode(eventType, payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.topics[t]))
	for c := range h.topics[t] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := h.write(ctx, c, data); err != nil {
			slog.Debug("websocket write failed", "conversation_id", t.conversationID, "error", err)
			h.remove(c)
		}
	}
}

func (h *Hub) send(ctx context.Context, c *conn, eventType string, payload any) {
	data, err := encode(eventType, payload)
	if err != nil {
		return
	}
	if err := h.write(ctx, c, data); err != nil {
		h.remove(c)
	}
}

func (h *Hub) write(ctx context.Context, c *conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func encode(eventType string, payload any) ([]byte, error) {
	msg := Message{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.topics {
		n += len(set)
	}
	return n
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[c.topic]
	if !ok {
		set = make(map[*conn]struct{})
		h.topics[c.topic] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	c.cancel()
	delete(set, c)
	if len(set) == 0 {
		delete(h.topics, c.topic)
	}
	slog.Info("websocket disconnected", "channel", c.topic.channel, "conversation_id", c.topic.conversationID)
}
