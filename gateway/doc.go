// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway maintains the persistent real-time event connection
// to the Loop gateway, distinct from the request/response API.
//
// A Client owns one WebSocket connection at a time. Callers mint a
// short-lived stream token through the transport, connect with it, and
// subscribe to channel identifiers — opaque strings naming real-time
// feeds such as a chat-room channel or a group-updates channel.
// Inbound frames are JSON, routed to registered handlers by their
// event field.
//
// Connection loss transitions the client back to Disconnected.
// Reconnection is caller-driven: re-connect with a fresh token and
// re-subscribe. The remote side is authoritative for subscription
// state; the client does not track active channels unless configured
// to.
package gateway
