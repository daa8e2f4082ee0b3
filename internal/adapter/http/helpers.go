package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/domain"
	"github.com/andrei-shtanakov/agent-builder-tester/internal/service"
)

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// queryTime parses an RFC 3339 (or YYYY-MM-DD) query parameter.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or a date", name)
}

// queryRange parses the start_date/end_date pair shared by analytics endpoints.
func queryRange(r *http.Request) (start, end *time.Time, err error) {
	if start, err = queryTime(r, "start_date"); err != nil {
		return nil, nil, err
	}
	if end, err = queryTime(r, "end_date"); err != nil {
		return nil, nil, err
	}
	if start != nil && end != nil && !start.Before(*end) {
		return nil, nil, errors.New("start_date must be before end_date")
	}
	return start, end, nil
}

// paging reads skip/limit query parameters.
func paging(r *http.Request) (skip, limit int, err error) {
	if skip, err = queryInt(r, "skip", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", 100); err != nil {
		return 0, 0, err
	}
	return skip, limit, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps sentinel errors to the response status and, when set, a
// fixed client message.
var statusFor = []struct {
	target  error
	status  int
	message string
}{
	{domain.ErrNotFound, http.StatusNotFound, ""},
	{domain.ErrValidation, http.StatusBadRequest, ""},
	{domain.ErrConflict, http.StatusConflict, ""},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "incorrect username or password"},
	{service.ErrUnauthenticated, http.StatusUnauthorized, "authorization required"},
}

// writeDomainError answers with the status of the first sentinel err wraps.
// notFound replaces the message of a 404.
func writeDomainError(w http.ResponseWriter, err error, notFound string) {
	for _, m := range statusFor {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		switch m.target {
		case domain.ErrNotFound:
			msg = notFound
		case domain.ErrValidation:
			msg = strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		case domain.ErrConflict:
			msg = conflictMessage(err)
		}
		writeError(w, m.status, msg)
		return
	}
	writeInternalError(w, err)
}

// conflictMessage keeps the service's description of the conflict, which
// names the duplicate resource or exceeded quota.
func conflictMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "+domain.ErrConflict.Error()); i > 0 {
		msg = msg[:i]
	}
	if j := strings.LastIndex(msg, ": "); j >= 0 {
		msg = msg[j+2:]
	}
	if msg == "" || msg == domain.ErrConflict.Error() {
		return "resource already exists"
	}
	return msg
}

// writeInternalError logs err and hides it from the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
