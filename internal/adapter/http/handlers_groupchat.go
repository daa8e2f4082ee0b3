package http

import (
	"context"
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/groupchat"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/middleware"
)

// ListGroupChats handles GET /api/v1/group-chats
func (h *Handlers) ListGroupChats(w http.ResponseWriter, r *http.Request) {
	handleList(h.GroupChats.List)(w, r)
}

// GetGroupChat handles GET /api/v1/group-chats/{id}
func (h *Handlers) GetGroupChat(w http.ResponseWriter, r *http.Request) {
	handleGet(h.GroupChats.Get, "group chat not found")(w, r)
}

// CreateGroupChat handles POST /api/v1/group-chats
func (h *Handlers) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.GroupChats.Create, "agent not found")(w, r)
}

// UpdateGroupChat handles PUT /api/v1/group-chats/{id}
func (h *Handlers) UpdateGroupChat(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), h.GroupChats.Update, "group chat not found")(w, r)
}

// DeleteGroupChat handles DELETE /api/v1/group-chats/{id}
func (h *Handlers) DeleteGroupChat(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.GroupChats.Delete, "group chat not found")(w, r)
}

// ListParticipants handles GET /api/v1/group-chats/{id}/participants
func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.GroupChats.ListParticipants, "group chat not found")(w, r)
}

// AddParticipant handles POST /api/v1/group-chats/{id}/participants
func (h *Handlers) AddParticipant(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	handleCreate(h.bodyLimit(), func(ctx context.Context, req groupchat.AddParticipantRequest) (*groupchat.Participant, error) {
		return h.GroupChats.AddParticipant(ctx, id, req)
	}, "group chat or agent not found")(w, r)
}

// RemoveParticipant handles DELETE /api/v1/group-chats/{id}/participants/{agentID}
func (h *Handlers) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	if err := h.GroupChats.RemoveParticipant(r.Context(), urlParam(r, "id"), urlParam(r, "agentID")); err != nil {
		writeDomainError(w, err, "participant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGroupChatConversations handles GET /api/v1/group-chats/{id}/conversations
func (h *Handlers) ListGroupChatConversations(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.GroupChats.ListConversations, "group chat not found")(w, r)
}

// ListGroupChatMessages handles GET /api/v1/group-chats/{id}/messages
func (h *Handlers) ListGroupChatMessages(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.GroupChats.ListMessages, "group chat not found")(w, r)
}

// StartGroupChat creates the conversation synchronously and runs the chat
// in the background. Progress is observable over /ws/chat/{conversation id}.
// POST /api/v1/group-chats/{id}/start
func (h *Handlers) StartGroupChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[groupchat.StartRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	var userID string
	if u := middleware.UserFromContext(r.Context()); u != nil {
		userID = u.ID
	}
	conv, err := h.GroupChats.Start(r.Context(), urlParam(r, "id"), req, userID)
	if err != nil {
		writeDomainError(w, err, "group chat not found")
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}
