package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/adapter/ws"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. strict
// wraps the endpoints that get the tighter rate limit; nil disables it.
func MountRoutes(r chi.Router, h *Handlers, strict func(http.Handler) http.Handler) {
	if strict == nil {
		strict = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", h.ListModels)

		// Auth
		r.Route("/auth", func(r chi.Router) {
			r.With(strict).Post("/register", h.Register)
			r.With(strict).Post("/login", h.Login)
			r.Get("/me", h.GetMe)
			r.Put("/me", h.UpdateMe)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSuperuser)
				r.Get("/users", h.ListUsers)
				r.Get("/users/{id}", h.GetUser)
				r.Put("/users/{id}", h.UpdateUser)
				r.Delete("/users/{id}", h.DeleteUser)
			})
		})

		// Agents and versions
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Get("/{id}", h.GetAgent)
			r.Put("/{id}", h.UpdateAgent)
			r.Delete("/{id}", h.DeleteAgent)
			r.Get("/{id}/versions", h.ListAgentVersions)
			r.Post("/{id}/versions", h.CreateAgentVersion)
			r.Get("/{id}/versions/current", h.GetCurrentAgentVersion)
			r.Get("/{id}/versions/{versionID}", h.GetAgentVersion)
			r.Post("/{id}/versions/{versionID}/activate", h.ActivateAgentVersion)
		})

		// Templates
		r.Route("/agent-templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Post("/", h.CreateTemplate)
			r.Get("/{id}", h.GetTemplate)
			r.Put("/{id}", h.UpdateTemplate)
			r.Delete("/{id}", h.DeleteTemplate)
			r.Post("/{id}/instantiate", h.InstantiateTemplate)
		})

		// Conversations
		r.Route("/chat/sessions", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateConversation)
			r.Get("/{id}", h.GetConversation)
			r.Delete("/{id}", h.DeleteConversation)
			r.Post("/{id}/complete", h.CompleteConversation)
			r.Get("/{id}/messages", h.ListMessages)
			r.Post("/{id}/messages", h.CreateMessage)
		})

		// Group chats
		r.Route("/group-chats", func(r chi.Router) {
			r.Get("/", h.ListGroupChats)
			r.With(strict).Post("/", h.CreateGroupChat)
			r.Get("/{id}", h.GetGroupChat)
			r.With(strict).Put("/{id}", h.UpdateGroupChat)
			r.With(strict).Delete("/{id}", h.DeleteGroupChat)
			r.Get("/{id}/participants", h.ListParticipants)
			r.With(strict).Post("/{id}/participants", h.AddParticipant)
			r.With(strict).Delete("/{id}/participants/{agentID}", h.RemoveParticipant)
			r.Get("/{id}/conversations", h.ListGroupChatConversations)
			r.Get("/{id}/messages", h.ListGroupChatMessages)
			r.With(strict).Post("/{id}/start", h.StartGroupChat)
		})

		// Execution logs
		r.Route("/logs", func(r chi.Router) {
			r.Post("/", h.CreateLog)
			r.Get("/sessions/{id}", h.ListLogs)
			r.Delete("/sessions/{id}", h.DeleteLogs)
			r.Get("/sessions/{id}/stats", h.LogStats)
			r.Get("/sessions/{id}/export", h.ExportLogs)
			r.Get("/{id}", h.GetLog)
		})

		// Analytics
		r.Route("/analytics", func(r chi.Router) {
			r.Post("/metrics", h.RecordMetric)
			r.Get("/metrics", h.QueryMetrics)
			r.Get("/metrics/summary", h.SummarizeMetrics)
			r.Get("/metrics/aggregates", h.ListAggregates)
			r.With(middleware.RequireSuperuser).Post("/metrics/rollup", h.RollupMetrics)
			r.Post("/performance", h.RecordPerformance)
			r.Get("/performance/statistics", h.PerformanceStatistics)
			r.Get("/usage/statistics", h.UsageStatistics)
			r.Get("/costs/breakdown", h.CostBreakdown)
			r.Get("/quotas/me", h.MyQuotas)
			r.Get("/quotas/check/{type}", h.CheckQuota)
			r.With(middleware.RequireSuperuser).Post("/quotas", h.ProvisionQuota)
			r.With(middleware.RequireSuperuser).Put("/quotas/{type}", h.ReconfigureQuota)
			r.Post("/quotas/{type}/increment", h.IncrementQuota)
		})
	})

	// WebSocket streams, one per conversation.
	if h.Hub != nil {
		r.Get("/ws/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.Hub.Serve(w, r, ws.ChannelChat, urlParam(r, "id"))
		})
		r.Get("/ws/logs/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.Hub.Serve(w, r, ws.ChannelLogs, urlParam(r, "id"))
		})
	}
}
