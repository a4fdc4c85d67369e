// Package api exposes the RPC-style HTTP surface. Error responses use
// RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/verdantlabs/agritrace/pkg/trace"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://agritrace.verdantlabs.io/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Internal
// causes are logged, never exposed.
func writeServiceError(w http.ResponseWriter, err error) {
	detail := err.Error()
	var te *trace.Error
	if errors.As(err, &te) {
		detail = te.Message
	}
	switch trace.KindOf(err) {
	case trace.KindInvalidArgument:
		writeProblem(w, http.StatusBadRequest, "Bad Request", detail)
	case trace.KindNotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", detail)
	case trace.KindPermissionDenied:
		writeProblem(w, http.StatusForbidden, "Forbidden", detail)
	default:
		slog.Error("internal server error", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error",
			"An unexpected error occurred. Please try again later.")
	}
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	writeProblem(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeProblem(w, http.StatusBadRequest, "Bad Request", detail)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed",
		"The HTTP method is not supported for this endpoint")
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	writeProblem(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
