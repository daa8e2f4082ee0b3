package http

import (
	"cmp"
	"net/http"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/analytics"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/period"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain/quota"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

// ---------------------------------------------------------------------------
// Metric events
// ---------------------------------------------------------------------------

// RecordMetric stores a metric event; the user defaults to the caller.
// POST /api/v1/analytics/metrics
func (h *Handlers) RecordMetric(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[analytics.RecordRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	userID, err := service.AuthorizeUser(u, req.UserID)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	req.UserID = userID
	ev, err := h.Metrics.Record(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "metric not found")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// metricFilter reads the metric filter from the query. Non-superusers are
// pinned to their own user id.
func (h *Handlers) metricFilter(w http.ResponseWriter, r *http.Request) (analytics.Filter, bool) {
	u, ok := caller(w, r)
	if !ok {
		return analytics.Filter{}, false
	}
	q := r.URL.Query()
	userID, err := service.AuthorizeUser(u, q.Get("user_id"))
	if err != nil {
		writeDomainError(w, err, "user not found")
		return analytics.Filter{}, false
	}
	f := analytics.Filter{
		UserID:         userID,
		AgentID:        q.Get("agent_id"),
		ConversationID: q.Get("conversation_id"),
		MetricType:     q.Get("metric_type"),
		MetricName:     q.Get("metric_name"),
	}
	if f.Start, f.End, err = queryRange(r); err == nil {
		if f.Limit, err = queryInt(r, "limit", analytics.DefaultLimit); err == nil {
			f.Offset, err = queryInt(r, "offset", 0)
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return analytics.Filter{}, false
	}
	return f, true
}

// QueryMetrics handles GET /api/v1/analytics/metrics
func (h *Handlers) QueryMetrics(w http.ResponseWriter, r *http.Request) {
	f, ok := h.metricFilter(w, r)
	if !ok {
		return
	}
	events, err := h.Metrics.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "metrics not found")
		return
	}
	if events == nil {
		events = []analytics.MetricEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// SummarizeMetrics handles GET /api/v1/analytics/metrics/summary
func (h *Handlers) SummarizeMetrics(w http.ResponseWriter, r *http.Request) {
	f, ok := h.metricFilter(w, r)
	if !ok {
		return
	}
	s, err := h.Metrics.Summarize(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// RollupMetrics aggregates raw events into period buckets.
// POST /api/v1/analytics/metrics/rollup (superuser)
func (h *Handlers) RollupMetrics(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[analytics.RollupRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	res, err := h.Metrics.Rollup(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAggregates handles GET /api/v1/analytics/metrics/aggregates
func (h *Handlers) ListAggregates(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID := q.Get("user_id")
	if !u.IsSuperuser || userID != "" {
		var err error
		if userID, err = service.AuthorizeUser(u, userID); err != nil {
			writeDomainError(w, err, "user not found")
			return
		}
	}
	f := analytics.AggregateFilter{
		UserID:     userID,
		AgentID:    q.Get("agent_id"),
		MetricType: q.Get("metric_type"),
	}
	if raw := q.Get("period"); raw != "" {
		p, err := period.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Period = p
	}
	var err error
	if f.Start, f.End, err = queryRange(r); err == nil {
		f.Limit, err = queryInt(r, "limit", analytics.DefaultLimit)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	aggs, err := h.Metrics.Aggregates(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "aggregates not found")
		return
	}
	if aggs == nil {
		aggs = []analytics.AggregatedMetric{}
	}
	writeJSON(w, http.StatusOK, aggs)
}

// ---------------------------------------------------------------------------
// Performance
// ---------------------------------------------------------------------------

// RecordPerformance handles POST /api/v1/analytics/performance
func (h *Handlers) RecordPerformance(w http.ResponseWriter, r *http.Request) {
	handleCreate(h.bodyLimit(), h.Performance.Record, "metric not found")(w, r)
}

// PerformanceStatistics handles GET /api/v1/analytics/performance/statistics?operation=
func (h *Handlers) PerformanceStatistics(w http.ResponseWriter, r *http.Request) {
	op := r.URL.Query().Get("operation")
	if op == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}
	start, end, err := queryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.Analytics.PerformanceStatistics(r.Context(), op, start, end)
	if err != nil {
		writeDomainError(w, err, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// UsageStatistics handles GET /api/v1/analytics/usage/statistics?user_id=
func (h *Handlers) UsageStatistics(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	userID, err := service.AuthorizeUser(u, r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	start, end, err := queryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.Analytics.UsageStatistics(r.Context(), userID, start, end)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CostBreakdown handles GET /api/v1/analytics/costs/breakdown?entity_type=&entity_id=
func (h *Handlers) CostBreakdown(w http.ResponseWriter, r *http.Request) {
	start, end, err := queryRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	cb, err := h.Analytics.CostBreakdown(r.Context(), q.Get("entity_type"), q.Get("entity_id"), start, end)
	if err != nil {
		writeDomainError(w, err, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, cb)
}

// ---------------------------------------------------------------------------
// Quotas
// ---------------------------------------------------------------------------

// MyQuotas handles GET /api/v1/analytics/quotas/me
func (h *Handlers) MyQuotas(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	quotas, err := h.Quotas.List(r.Context(), u.ID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if quotas == nil {
		quotas = []quota.UsageQuota{}
	}
	writeJSON(w, http.StatusOK, quotas)
}

// CheckQuota reports whether a quota is exceeded. A missing quota is not.
// GET /api/v1/analytics/quotas/check/{type}?user_id=
func (h *Handlers) CheckQuota(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	userID, err := service.AuthorizeUser(u, r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	res, err := h.Quotas.Check(r.Context(), userID, urlParam(r, "type"))
	if err != nil {
		writeDomainError(w, err, "quota not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ProvisionQuota creates a quota; the user defaults to the caller.
// Superuser only. A duplicate (user, type) is a 409.
// POST /api/v1/analytics/quotas
func (h *Handlers) ProvisionQuota(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[quota.ProvisionRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.UserID == "" {
		req.UserID = u.ID
	}
	q, err := h.Quotas.Provision(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// ReconfigureQuota changes a quota's limit and period, keeping its usage.
// Superuser only.
// PUT /api/v1/analytics/quotas/{type}?user_id=
func (h *Handlers) ReconfigureQuota(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	req, ok := readJSON[quota.ProvisionRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	req.UserID = cmp.Or(r.URL.Query().Get("user_id"), u.ID)
	req.QuotaType = urlParam(r, "type")
	q, err := h.Quotas.Reconfigure(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "quota not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// IncrementQuota adds usage to a quota.
// POST /api/v1/analytics/quotas/{type}/increment?user_id=
func (h *Handlers) IncrementQuota(w http.ResponseWriter, r *http.Request) {
	u, ok := caller(w, r)
	if !ok {
		return
	}
	userID, err := service.AuthorizeUser(u, r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	req, ok := readJSON[quota.IncrementRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if req.Correction && !u.IsSuperuser {
		writeError(w, http.StatusForbidden, "corrections require superuser privileges")
		return
	}
	q, err := h.Quotas.Increment(r.Context(), userID, urlParam(r, "type"), req)
	if err != nil {
		writeDomainError(w, err, "quota not found")
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "quota not found")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

