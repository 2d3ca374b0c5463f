// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string            `json:"type,omitempty"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Kind   string            `json:"kind,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Envelope wraps single entity responses.
type Envelope struct {
	Data any `json:"data"`
}

// ListEnvelope wraps list responses.
type ListEnvelope struct {
	Data any         `json:"data"`
	Meta shared.Meta `json:"meta"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Data sends {"data": v}.
func Data(w http.ResponseWriter, status int, v any) {
	JSON(w, status, Envelope{Data: v})
}

// List sends {"data": items, "meta": {...}}.
func List(w http.ResponseWriter, items any, meta shared.Meta) {
	JSON(w, http.StatusOK, ListEnvelope{Data: items, Meta: meta})
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DecodeJSON decodes JSON request body into the target struct. Unknown fields
// and trailing data are rejected as validation errors.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.NewValidationError("body", "request body is required")
		}
		return shared.NewValidationError("body", err.Error())
	}
	if dec.More() {
		return shared.NewValidationError("body", "unexpected trailing data")
	}
	return nil
}

// PathID parses a positive int64 URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.NewValidationError(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// QueryInt64 parses an optional int64 query parameter.
func QueryInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, shared.NewValidationError(name, "must be an integer")
	}
	return &v, nil
}

// QueryBool parses an optional boolean query parameter.
func QueryBool(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, shared.NewValidationError(name, "must be a boolean")
	}
	return &v, nil
}

// QueryPage reads limit/offset (skip/take are accepted as aliases).
func QueryPage(r *http.Request) (shared.Page, error) {
	q := r.URL.Query()
	page := shared.Page{}
	parse := func(primary, alias string) (int, error) {
		raw := q.Get(primary)
		if raw == "" {
			raw = q.Get(alias)
		}
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, shared.NewValidationError(primary, "must be a non-negative integer")
		}
		return v, nil
	}
	var err error
	if page.Limit, err = parse("limit", "take"); err != nil {
		return page, err
	}
	if page.Offset, err = parse("offset", "skip"); err != nil {
		return page, err
	}
	return page.Normalize(), nil
}
