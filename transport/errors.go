// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates API failures by HTTP status class. A single error
// type with a kind tag replaces one type per status code while keeping
// exhaustive matching cheap.
type Kind int

const (
	// KindHTTP is any non-2xx status outside the fixed table below.
	KindHTTP Kind = iota
	// KindBadRequest is status 400.
	KindBadRequest
	// KindAuthentication is status 401, and also the fail-fast error
	// for an authenticated request issued without an access token.
	KindAuthentication
	// KindForbidden is status 403.
	KindForbidden
	// KindNotFound is status 404.
	KindNotFound
	// KindRateLimit is status 429.
	KindRateLimit
	// KindServer is any 5xx status.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad request"
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindRateLimit:
		return "rate limit"
	case KindServer:
		return "server"
	default:
		return "http"
	}
}

// classifyStatus maps a non-2xx status code into the fixed kind table.
func classifyStatus(status int) Kind {
	switch {
	case status == 400:
		return KindBadRequest
	case status == 401:
		return KindAuthentication
	case status == 403:
		return KindForbidden
	case status == 404:
		return KindNotFound
	case status == 429:
		return KindRateLimit
	case status >= 500 && status < 600:
		return KindServer
	default:
		return KindHTTP
	}
}

// Envelope is the normalized error payload the Loop API returns on any
// non-2xx response, already translated to domain key convention.
type Envelope struct {
	Result    string `json:"result"`
	Message   string `json:"message"`
	ErrorCode int    `json:"errorCode"`
	BanUntil  *int64 `json:"banUntil"`
}

// Domain error codes carried in Envelope.ErrorCode. Negative by
// convention; zero means the server supplied none.
const (
	CodeInvalidParameter   = -1
	CodeAlreadyRegistered  = -2
	CodeAccessTokenExpired = -3
	CodeAccountBanned      = -4
)

// APIError is a classified non-2xx response (or a fail-fast
// authentication error raised before any call is issued). Callers
// branch on Kind and the envelope's ErrorCode — never on message text.
//
//	var apiErr *transport.APIError
//	if errors.As(err, &apiErr) && apiErr.Kind == transport.KindRateLimit { ... }
type APIError struct {
	Kind       Kind
	StatusCode int // zero when no call was issued
	Envelope   Envelope

	// RetryAfter is the server-provided wait hint from a 429
	// response, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport: %s: %s", e.Kind, e.Envelope.Message)
	}
	return fmt.Sprintf("transport: %s (%d): %s (code %d)",
		e.Kind, e.StatusCode, e.Envelope.Message, e.Envelope.ErrorCode)
}

// IsKind checks whether err is an *APIError with the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
