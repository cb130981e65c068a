// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net/http"
	"net/url"
)

// Realm names one of the distinct backend hosts a request may target.
type Realm string

const (
	// RealmAPI is the primary API host (the default).
	RealmAPI Realm = "api"
	// RealmSettings is the settings/config service host.
	RealmSettings Realm = "settings"
	// RealmAnalytics is the analytics/notification service host.
	RealmAnalytics Realm = "analytics"
)

// Endpoints holds the base URLs for each realm.
type Endpoints struct {
	API       string
	Settings  string
	Analytics string
}

// DefaultEndpoints returns the production Loop backend hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		API:       "https://api.loop-social.com",
		Settings:  "https://settings.loop-social.com",
		Analytics: "https://events.loop-social.com",
	}
}

func (e Endpoints) forRealm(realm Realm) string {
	switch realm {
	case RealmSettings:
		return e.Settings
	case RealmAnalytics:
		return e.Analytics
	default:
		return e.API
	}
}

// RequestDescriptor describes one outbound call. Path, query keys, and
// body keys use the domain convention (camelCase); the transport
// translates to the wire convention before sending.
type RequestDescriptor struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE).
	Method string

	// Path is the route path (e.g., "/v2/posts/new_timeline").
	Path string

	// Query holds query parameters with domain-convention keys.
	Query url.Values

	// Body is the request body, marshaled to JSON and key-translated.
	// Nil sends no body.
	Body any

	// Realm overrides the target backend; zero value targets RealmAPI.
	Realm Realm

	// RequireAuth makes the request fail fast with an authentication
	// error when no access token is present, instead of being sent.
	RequireAuth bool

	// Headers are explicit overrides merged over the signed header
	// set.
	Headers http.Header
}
