// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"net/http"
	"strconv"
	"time"

	"github.com/loop-social/loopkit/lib/version"
)

// Signer produces the exact header set the Loop API requires for one
// request. It holds no session state — the access token and device UUID
// arrive per call, and the timestamp is supplied by the caller so that
// Build stays fully deterministic.
type Signer struct {
	// Device is the hardware identity behind the User-Agent and
	// X-Device-Info headers.
	Device Device

	// Host is the value of the Host header (the target realm's host).
	Host string

	// Locale is sent as Accept-Language (e.g., "en", "ja").
	Locale string

	// ClientIP is sent as X-Client-IP when non-empty. The official
	// client populates this after the first ID check; it stays empty
	// until explicitly set.
	ClientIP string

	// ConnectionType is sent as X-Connection-Type ("wifi" when empty).
	ConnectionType string

	// ConnectionSpeed is sent as X-Connection-Speed (empty by default).
	ConnectionSpeed string
}

// Build constructs the header set for one request. Authorization is
// included only when accessToken is non-empty; X-Client-IP is omitted
// while unset. Build performs no I/O.
func (s Signer) Build(now time.Time, deviceUUID, accessToken string) http.Header {
	userAgent := s.Device.UserAgent()

	connectionType := s.ConnectionType
	if connectionType == "" {
		connectionType = "wifi"
	}

	headers := http.Header{}
	headers.Set("Host", s.Host)
	headers.Set("User-Agent", userAgent)
	headers.Set("X-Timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	headers.Set("X-App-Version", version.App)
	headers.Set("X-Device-Info", "Loop "+version.App+" "+userAgent)
	headers.Set("X-Device-UUID", deviceUUID)
	headers.Set("X-Connection-Type", connectionType)
	headers.Set("X-Connection-Speed", s.ConnectionSpeed)
	headers.Set("Accept-Language", s.Locale)
	headers.Set("Content-Type", "application/json; charset=UTF-8")

	if s.ClientIP != "" {
		headers.Set("X-Client-IP", s.ClientIP)
	}
	if accessToken != "" {
		headers.Set("Authorization", "Bearer "+accessToken)
	}
	return headers
}
