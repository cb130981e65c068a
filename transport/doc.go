// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport issues Loop API requests. It is the single
// chokepoint every endpoint wrapper calls through: it resolves the
// target realm, translates request and response bodies between the
// camelCase domain convention and the snake_case wire convention,
// attaches the signed device/identity header set, classifies non-2xx
// responses into a typed error taxonomy, and applies the retry,
// backoff, and rate-limit policy.
//
// The public surface is deliberately small. Endpoint wrappers depend
// on Client.Request and nothing else; Login, Logout, and StreamToken
// exist here only because the transport's own refresh cycle and the
// gateway need them.
package transport
