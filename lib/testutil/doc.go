// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for loopkit packages.
package testutil
