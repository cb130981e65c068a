// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// loopctl is a command-line client for the Loop API: sign in, tail
// gateway events, and sign out. It exists mainly for operating and
// debugging loopkit itself — the session file it writes is the same
// one the library reads.
package main
