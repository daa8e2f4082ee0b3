package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/conversation"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/execlog"
)

// ListConversations handles GET /api/v1/chat/sessions?agent_id=
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	handleList(func(ctx context.Context, skip, limit int) ([]conversation.Conversation, error) {
		return h.Conversations.List(ctx, agentID, conversation.ListOptions{Skip: skip, Limit: limit})
	})(w, r)
}

// GetConversation handles GET /api/v1/chat/sessions/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Conversations.Get, "conversation not found")(w, r)
}

// CreateConversation handles POST /api/v1/chat/sessions
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Conversations.Create, "agent not found")(w, r)
}

// DeleteConversation handles DELETE /api/v1/chat/sessions/{id}
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Conversations.Delete, "conversation not found")(w, r)
}

// CompleteConversation handles POST /api/v1/chat/sessions/{id}/complete
func (h *Handlers) CompleteConversation(w http.ResponseWriter, r *http.Request) {
	c, err := h.Conversations.Complete(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListMessages handles GET /api/v1/chat/sessions/{id}/messages
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Conversations.ListMessages, "conversation not found")(w, r)
}

// CreateMessage handles POST /api/v1/chat/sessions/{id}/messages
func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	handleCreate(h.bodyLimit(), func(ctx context.Context, req conversation.MessageCreateRequest) (*conversation.Message, error) {
		return h.Conversations.AddMessage(ctx, id, req)
	}, "conversation not found")(w, r)
}

// CreateLog handles POST /api/v1/logs
func (h *Handlers) CreateLog(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Logs.Create, "conversation not found")(w, r)
}

// GetLog handles GET /api/v1/logs/{id}
func (h *Handlers) GetLog(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Logs.Get, "log not found")(w, r)
}

// ListLogs handles GET /api/v1/logs/sessions/{id}
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.Logs.List(r.Context(), urlParam(r, "id"), f)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	if logs == nil {
		logs = []execlog.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func logFilter(r *http.Request) (execlog.Filter, error) {
	q := r.URL.Query()
	f := execlog.Filter{
		Level:     execlog.Level(q.Get("level")),
		EventType: execlog.EventType(q.Get("event_type")),
		AgentName: q.Get("agent_name"),
	}
	var err error
	if f.Start, f.End, err = queryRange(r); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", 100); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

// LogStats handles GET /api/v1/logs/sessions/{id}/stats
func (h *Handlers) LogStats(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Logs.Stats, "conversation not found")(w, r)
}

// ExportLogs renders every log of a conversation as json, txt, or csv.
// GET /api/v1/logs/sessions/{id}/export?format=
func (h *Handlers) ExportLogs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("format")
	if raw == "" {
		raw = string(execlog.FormatJSON)
	}
	format, err := execlog.ParseFormat(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := urlParam(r, "id")
	body, err := h.Logs.Export(r.Context(), id, format)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "logs-"+id+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write log export", "conversation_id", id, "error", err)
	}
}

// DeleteLogs handles DELETE /api/v1/logs/sessions/{id}
func (h *Handlers) DeleteLogs(w http.ResponseWriter, r *http.Request) {
	n, err := h.Logs.Delete(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
