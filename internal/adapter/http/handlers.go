package http

import (
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/litellm"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/ws"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/user"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/middleware"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/resilience"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

// Limits configures request-level caps.
type Limits struct {
	MaxBodyBytes int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxBodyBytes: 1 << 20}
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Agents        *service.AgentService
	Templates     *service.TemplateService
	Auth          *service.AuthService
	Conversations *service.ConversationService
	GroupChats    *service.GroupChatService
	Logs          *service.ExecutionLogService
	Metrics       *service.MetricService
	Performance   *service.PerformanceService
	Quotas        *service.QuotaService
	Analytics     *service.AnalyticsService
	LiteLLM       *litellm.Client
	Breaker       *resilience.Breaker
	Hub           *ws.Hub
	Limits        Limits
}

func (h *Handlers) bodyLimit() int64 {
	if h.Limits.MaxBodyBytes <= 0 {
		return DefaultLimits().MaxBodyBytes
	}
	return h.Limits.MaxBodyBytes
}

// caller returns the authenticated user, writing 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (*user.User, bool) {
	u := middleware.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return nil, false
	}
	return u, true
}

type healthResponse struct {
	Status  string            `json:"status"`
	Breaker *resilience.Stats `json:"breaker,omitempty"`
	LiteLLM string            `json:"litellm,omitempty"`
}

// Health reports liveness plus the completion provider's circuit state.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.Breaker != nil {
		st := h.Breaker.Stats()
		resp.Breaker = &st
	}
	if h.LiteLLM != nil && r.URL.Query().Get("deep") == "true" {
		resp.LiteLLM = "ok"
		if ok, err := h.LiteLLM.Health(r.Context()); err != nil || !ok {
			resp.LiteLLM = "unavailable"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Root identifies the service.
// GET /
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "agent-builder", "api": "/api/v1"})
}

// ListModels proxies the completion provider's model list.
// GET /api/v1/models
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	if h.LiteLLM == nil {
		writeError(w, http.StatusServiceUnavailable, "completion provider not configured")
		return
	}
	models, err := h.LiteLLM.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "completion provider unavailable")
		return
	}
	if models == nil {
		models = []litellm.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

