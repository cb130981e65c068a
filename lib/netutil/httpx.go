// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities shared by the transport
// and gateway packages.
//
// Response reads are bounded at MaxResponseSize so a misbehaving
// server cannot cause unbounded memory allocation. This is for JSON
// API responses, not for streaming downloads, which should be read
// incrementally with io.Copy.
package netutil

import "io"

// MaxResponseSize is the bound on JSON API response body reads: 32 MB.
// Legitimate Loop API responses are orders of magnitude smaller; the
// limit exists solely to keep a pathological response from exhausting
// memory.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
