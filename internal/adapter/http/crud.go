package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Resource handler factories. Each one adapts a service method to an
// http.HandlerFunc; notFound is the 404 message for domain.ErrNotFound.

// reply writes v with status, or maps err when it is set.
func reply(w http.ResponseWriter, status int, v any, err error, notFound string) {
	if err != nil {
		writeDomainError(w, err, notFound)
		return
	}
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

// orEmpty keeps list responses a JSON array when nothing matched.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func idParam(r *http.Request) string { return chi.URLParam(r, "id") }

// handleList pages through a collection with skip and limit.
func handleList[T any](list func(ctx context.Context, skip, limit int) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skip, limit, err := paging(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		items, err := list(r.Context(), skip, limit)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(items))
	}
}

// handleListByParam lists the children of the resource named by param.
func handleListByParam[T any](param string, list func(ctx context.Context, parent string) ([]T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context(), chi.URLParam(r, param))
		reply(w, http.StatusOK, orEmpty(items), err, notFound)
	}
}

func handleGet[T any](get func(ctx context.Context, id string) (*T, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := get(r.Context(), idParam(r))
		reply(w, http.StatusOK, item, err, notFound)
	}
}

// handleCreate decodes a Req body of at most limit bytes and answers 201.
func handleCreate[Req, Res any](limit int64, create func(ctx context.Context, req Req) (*Res, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r, limit)
		if !ok {
			return
		}
		res, err := create(r.Context(), req)
		reply(w, http.StatusCreated, res, err, notFound)
	}
}

func handleUpdate[Req, Res any](limit int64, update func(ctx context.Context, id string, req Req) (*Res, error), notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := idParam(r)
		req, ok := readJSON[Req](w, r, limit)
		if !ok {
			return
		}
		res, err := update(r.Context(), id, req)
		reply(w, http.StatusOK, res, err, notFound)
	}
}

// handleDelete answers 204 on success.
func handleDelete(del func(ctx context.Context, id string) error, notFound string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusNoContent, nil, del(r.Context(), idParam(r)), notFound)
	}
}
