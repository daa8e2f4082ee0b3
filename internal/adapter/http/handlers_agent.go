package http

import (
	"context"
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/agent"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/template"
)

// ListAgents handles GET /api/v1/agents
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	handleList(func(ctx context.Context, skip, limit int) ([]agent.Agent, error) {
		return h.Agents.List(ctx, agent.ListOptions{Skip: skip, Limit: limit})
	})(w, r)
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.Get, "agent not found")(w, r)
}

// CreateAgent handles POST /api/v1/agents
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Agents.Create, "agent not found")(w, r)
}

// UpdateAgent handles PUT /api/v1/agents/{id}
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), h.Agents.Update, "agent not found")(w, r)
}

// DeleteAgent handles DELETE /api/v1/agents/{id}
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Agents.Delete, "agent not found")(w, r)
}

// ListAgentVersions handles GET /api/v1/agents/{id}/versions
func (h *Handlers) ListAgentVersions(w http.ResponseWriter, r *http.Request) {
	handleListByParam("id", h.Agents.ListVersions, "agent not found")(w, r)
}

// CreateAgentVersion handles POST /api/v1/agents/{id}/versions
func (h *Handlers) CreateAgentVersion(w http.ResponseWriter, r *http.Request) {
	agentID := urlParam(r, "id")
	handleCreate(h.bodyLimit(), func(ctx context.Context, req agent.CreateVersionRequest) (*agent.Version, error) {
		return h.Agents.CreateVersion(ctx, agentID, req)
	}, "agent not found")(w, r)
}

// GetCurrentAgentVersion handles GET /api/v1/agents/{id}/versions/current
func (h *Handlers) GetCurrentAgentVersion(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Agents.CurrentVersion, "agent has no current version")(w, r)
}

// GetAgentVersion handles GET /api/v1/agents/{id}/versions/{versionID}
func (h *Handlers) GetAgentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Agents.GetVersion(r.Context(), urlParam(r, "id"), urlParam(r, "versionID"))
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ActivateAgentVersion handles POST /api/v1/agents/{id}/versions/{versionID}/activate
func (h *Handlers) ActivateAgentVersion(w http.ResponseWriter, r *http.Request) {
	a, err := h.Agents.ActivateVersion(r.Context(), urlParam(r, "id"), urlParam(r, "versionID"))
	if err != nil {
		writeDomainError(w, err, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListTemplates handles GET /api/v1/agent-templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	skip, limit, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	items, err := h.Templates.List(r.Context(), template.Filter{
		Category:   q.Get("category"),
		PublicOnly: q.Get("public_only") == "true",
		Skip:       skip,
		Limit:      limit,
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if items == nil {
		items = []template.Template{}
	}
	writeJSON(w, http.StatusOK, items)
}

// GetTemplate handles GET /api/v1/agent-templates/{id}
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Templates.Get, "template not found")(w, r)
}

// CreateTemplate handles POST /api/v1/agent-templates
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Templates.Create, "template not found")(w, r)
}

// UpdateTemplate handles PUT /api/v1/agent-templates/{id}
func (h *Handlers) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	handleUpdate(h.bodyLimit(), h.Templates.Update, "template not found")(w, r)
}

// DeleteTemplate handles DELETE /api/v1/agent-templates/{id}
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	handleDelete(h.Templates.Delete, "template not found")(w, r)
}

// InstantiateTemplate creates an agent from a template.
// POST /api/v1/agent-templates/{id}/instantiate
func (h *Handlers) InstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	id := urlParam(r, "id")
	handleCreate(h.bodyLimit(), func(ctx context.Context, req template.InstantiateRequest) (*agent.Agent, error) {
		return h.Templates.Instantiate(ctx, id, req, u.ID)
	}, "template not found")(w, r)
}
