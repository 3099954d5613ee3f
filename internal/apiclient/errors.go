package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Common errors for the API client.
var (
	// ErrCanceled marks a request that was aborted before settling, either
	// by the caller or by a bulk cancel of pending requests. It is the single
	// tagged outcome downstream code should match on instead of inspecting
	// raw transport errors.
	ErrCanceled = errors.New("request canceled")

	ErrUnauthorized = errors.New("unauthorized")
	ErrNoBaseURL    = errors.New("backend base URL is not configured")
)

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status int    `json:"status"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

// Is lets errors.Is match 401 responses against ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// errorBody is the loose error shape backends return. Different endpoints
// use different field names, so all common ones are accepted.
type errorBody struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (b errorBody) detail() string {
	switch {
	case b.Error != "":
		return b.Error
	case b.Detail != "":
		return b.Detail
	case b.Message != "":
		return b.Message
	}
	return ""
}

// apiErrorFromResponse drains the response body and builds an APIError,
// preferring a structured error field over raw body text.
func apiErrorFromResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Detail = body.detail()
	}
	if apiErr.Detail == "" {
		text := strings.TrimSpace(string(data))
		if len(text) > 200 {
			text = text[:200]
		}
		apiErr.Detail = text
	}

	return apiErr
}

// IsCanceled reports whether err resulted from a canceled or aborted
// request. Cancellation surfaces in several shapes depending on where the
// abort happened (caller context, bulk cancel, transport internals), so the
// check is deliberately broad.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "canceled") ||
		strings.Contains(msg, "cancelled") ||
		strings.Contains(msg, "aborted")
}
