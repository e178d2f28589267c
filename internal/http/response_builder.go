// Package http provides the JSON API server and its handlers.
//
// This file implements a small builder for JSON responses so every handler
// sets status, headers, cookies and body the same way.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	cookies    []*http.Cookie
	body       any
}

// NewJSONResponse creates a builder with a 200 status and an empty object
// body.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
		body:       struct{}{},
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Cookie queues a Set-Cookie header.
func (b *JSONResponseBuilder) Cookie(c *http.Cookie) *JSONResponseBuilder {
	b.cookies = append(b.cookies, c)
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Field sets the body to a single-key object {key: v}.
func (b *JSONResponseBuilder) Field(key string, v any) *JSONResponseBuilder {
	b.body = map[string]any{key: v}
	return b
}

// Write sends the built response.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response body", "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	for _, c := range b.cookies {
		http.SetCookie(w, c)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n"))
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// ErrorResponse creates an error response carrying code.
func ErrorResponse(statusCode int, code string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: code})
}

// BadRequestError creates a 400 response with a domain error code.
func BadRequestError(code string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, code)
}

// ForbiddenError creates the 403 answer of the session guard.
func ForbiddenError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusForbidden, CodeUnauthorized)
}

// InternalServerError creates a 500 response. Details stay in the logs.
func InternalServerError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, CodeInternal)
}

// TooManyRequestsError creates the 429 answer of the rate limiter.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, CodeRateLimited)
}

// OK creates the {"ok":true} acknowledgement.
func OK() *JSONResponseBuilder {
	return NewJSONResponse().Field("ok", true)
}
