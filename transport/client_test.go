// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loop-social/loopkit/session"
)

func testStore(t *testing.T, withSession bool) *session.Store {
	t.Helper()
	store := session.NewStore(session.StoreConfig{})
	if withSession {
		err := store.Set(session.Record{
			Email:        "mira@example.com",
			UserID:       42,
			UserUUID:     "user-uuid",
			DeviceUUID:   "device-uuid",
			AccessToken:  "access-token",
			RefreshToken: "refresh-token",
		})
		if err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	return store
}

func testClient(t *testing.T, serverURL string, store *session.Store, policy RetryPolicy) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Endpoints: Endpoints{API: serverURL, Settings: serverURL, Analytics: serverURL},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     store,
		Policy:    policy,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

// fastPolicy keeps retry waits negligible so tests that exercise the
// retry loop complete immediately.
func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BackoffFactor: 2, BaseWait: time.Millisecond, WaitOnRateLimit: true}
}

func TestRequireAuthFailsFastWithoutToken(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, false), fastPolicy())
	_, err := client.Request(context.Background(), RequestDescriptor{
		Method:      http.MethodGet,
		Path:        "/v2/posts/timeline",
		RequireAuth: true,
	})

	if !IsKind(err, KindAuthentication) {
		t.Fatalf("error = %v, want authentication kind", err)
	}
	if calls.Load() != 0 {
		t.Errorf("underlying call was issued %d times, want 0", calls.Load())
	}
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if calls.Add(1) <= 2 {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusTooManyRequests)
			writer.Write([]byte(`{"result":"error","message":"rate limited","error_code":0,"ban_until":null}`))
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"result":"success"}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	body, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/v2/posts/timeline",
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want exactly 3", calls.Load())
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["result"] != "success" {
		t.Errorf("unexpected body %s (err %v)", body, err)
	}
}

func TestWaitIsMonotonicallyNonDecreasing(t *testing.T) {
	policy := RetryPolicy{BaseWait: 500 * time.Millisecond, BackoffFactor: 1.5}
	previous := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		wait := policy.Wait(attempt)
		if wait < previous {
			t.Errorf("Wait(%d) = %v < Wait(%d) = %v", attempt, wait, attempt-1, previous)
		}
		previous = wait
	}
}

func TestNotFoundFailsImmediatelyWithEnvelope(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusNotFound)
		writer.Write([]byte(`{"result":"error","message":"not found","error_code":-1,"ban_until":null}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	_, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/v2/posts/999",
	})

	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 404)", calls.Load())
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Kind != KindNotFound || apiErr.StatusCode != 404 {
		t.Errorf("kind/status = %v/%d", apiErr.Kind, apiErr.StatusCode)
	}
	want := Envelope{Result: "error", Message: "not found", ErrorCode: -1, BanUntil: nil}
	if apiErr.Envelope != want {
		t.Errorf("envelope = %+v, want %+v", apiErr.Envelope, want)
	}
}

func TestStatusClassificationTable(t *testing.T) {
	cases := map[int]Kind{
		400: KindBadRequest,
		401: KindAuthentication,
		403: KindForbidden,
		404: KindNotFound,
		429: KindRateLimit,
		500: KindServer,
		503: KindServer,
		418: KindHTTP,
	}
	for status, want := range cases {
		if got := classifyStatus(status); got != want {
			t.Errorf("classifyStatus(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestKeyConventionTranslation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.URL.Query().Get("from_post_id"); got != "7" {
			t.Errorf("query from_post_id = %q, want 7 (snake_case on the wire)", got)
		}

		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if _, ok := body["font_size"]; !ok {
			t.Errorf("request body keys not translated to wire convention: %v", body)
		}
		settings, ok := body["post_settings"].(map[string]any)
		if !ok {
			t.Fatalf("nested object missing: %v", body)
		}
		if _, ok := settings["shared_url"]; !ok {
			t.Errorf("nested keys not translated: %v", settings)
		}

		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"post_id":11,"created_at":1700000000}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	body, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodPost,
		Path:   "/v2/posts/new",
		Query:  url.Values{"fromPostId": []string{"7"}},
		Body: map[string]any{
			"fontSize": 14,
			"postSettings": map[string]any{
				"sharedUrl": "https://example.com",
			},
		},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := payload["postId"]; !ok {
		t.Errorf("response keys not translated to domain convention: %v", payload)
	}
	if _, ok := payload["createdAt"]; !ok {
		t.Errorf("response keys not translated to domain convention: %v", payload)
	}
}

func TestSignedHeadersAttached(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("Authorization"); got != "Bearer access-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := request.Header.Get("X-Device-UUID"); got != "device-uuid" {
			t.Errorf("X-Device-UUID = %q", got)
		}
		if request.Header.Get("X-App-Version") == "" {
			t.Error("X-App-Version missing")
		}
		if request.Header.Get("X-Timestamp") == "" {
			t.Error("X-Timestamp missing")
		}
		writer.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	if _, err := client.Request(context.Background(), RequestDescriptor{
		Method:      http.MethodGet,
		Path:        "/v2/users/me",
		RequireAuth: true,
	}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
}

func TestExplicitHeaderOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("X-Connection-Type"); got != "4g" {
			t.Errorf("X-Connection-Type = %q, want override 4g", got)
		}
		writer.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	if _, err := client.Request(context.Background(), RequestDescriptor{
		Method:  http.MethodGet,
		Path:    "/v2/users/me",
		Headers: http.Header{"X-Connection-Type": []string{"4g"}},
	}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
}

func TestRealmOverride(t *testing.T) {
	var settingsCalls atomic.Int64
	settingsServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		settingsCalls.Add(1)
		writer.Write([]byte(`{}`))
	}))
	defer settingsServer.Close()
	apiServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		t.Error("request reached the API realm instead of settings")
	}))
	defer apiServer.Close()

	client, err := NewClient(ClientConfig{
		Endpoints: Endpoints{API: apiServer.URL, Settings: settingsServer.URL, Analytics: apiServer.URL},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:     testStore(t, true),
		Policy:    fastPolicy(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/v2/settings/app",
		Realm:  RealmSettings,
	}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if settingsCalls.Load() != 1 {
		t.Errorf("settings realm calls = %d, want 1", settingsCalls.Load())
	}
}

func TestRefreshAndRetryOnExpiredToken(t *testing.T) {
	var timelineCalls, refreshCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/posts/timeline", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		if timelineCalls.Add(1) == 1 {
			writer.WriteHeader(http.StatusUnauthorized)
			writer.Write([]byte(`{"result":"error","message":"token expired","error_code":-3,"ban_until":null}`))
			return
		}
		if got := request.Header.Get("Authorization"); got != "Bearer fresh-access" {
			t.Errorf("retry Authorization = %q, want refreshed token", got)
		}
		writer.Write([]byte(`{"result":"success"}`))
	})
	mux.HandleFunc("/v2/users/token_refresh", func(writer http.ResponseWriter, request *http.Request) {
		refreshCalls.Add(1)
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding refresh body: %v", err)
		}
		if body["refresh_token"] != "refresh-token" {
			t.Errorf("refresh_token = %v", body["refresh_token"])
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"result":"success","access_token":"fresh-access","refresh_token":"fresh-refresh"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := testStore(t, true)
	client := testClient(t, server.URL, store, fastPolicy())
	if _, err := client.Request(context.Background(), RequestDescriptor{
		Method:      http.MethodGet,
		Path:        "/v2/posts/timeline",
		RequireAuth: true,
	}); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if refreshCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls.Load())
	}
	if timelineCalls.Load() != 2 {
		t.Errorf("timeline calls = %d, want 2", timelineCalls.Load())
	}
	record := store.Get()
	if record.AccessToken != "fresh-access" || record.RefreshToken != "fresh-refresh" {
		t.Errorf("store tokens = %q/%q, refresh not written back", record.AccessToken, record.RefreshToken)
	}
}

func TestRefreshFailureSurfacesOriginalError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/posts/timeline", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"result":"error","message":"token expired","error_code":-3,"ban_until":null}`))
	})
	mux.HandleFunc("/v2/users/token_refresh", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnauthorized)
		writer.Write([]byte(`{"result":"error","message":"refresh token revoked","error_code":0,"ban_until":null}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	_, err := client.Request(context.Background(), RequestDescriptor{
		Method:      http.MethodGet,
		Path:        "/v2/posts/timeline",
		RequireAuth: true,
	})
	if !IsKind(err, KindAuthentication) {
		t.Fatalf("error = %v, want the original authentication error", err)
	}
}

func TestServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusInternalServerError)
		writer.Write([]byte(`{"result":"error","message":"boom","error_code":0,"ban_until":null}`))
	}))
	defer server.Close()

	policy := fastPolicy()
	policy.MaxRetries = 1
	client := testClient(t, server.URL, testStore(t, true), policy)
	_, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/v2/posts/timeline",
	})

	if calls.Load() != 2 {
		t.Errorf("attempts = %d, want 2 (first + one retry)", calls.Load())
	}
	if !IsKind(err, KindServer) {
		t.Errorf("error = %v, want server kind (last classified error surfaces)", err)
	}
}

func TestNegativeMaxRetriesDisablesRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		calls.Add(1)
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := fastPolicy()
	policy.MaxRetries = -1
	client := testClient(t, server.URL, testStore(t, true), policy)
	_, err := client.Request(context.Background(), RequestDescriptor{
		Method: http.MethodGet,
		Path:   "/v2/posts/timeline",
	})

	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want exactly 1 with retries disabled", calls.Load())
	}
	if !IsKind(err, KindServer) {
		t.Errorf("error = %v, want server kind", err)
	}
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v2/users/sign_in" {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			t.Fatalf("decoding login body: %v", err)
		}
		if body["email"] != "mira@example.com" || body["password"] != "password123" {
			t.Errorf("credentials not sent: %v", body)
		}
		if _, ok := body["app_version"]; !ok {
			t.Errorf("app_version missing (wire convention): %v", body)
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"result":"success","user_id":42,"access_token":"tok-a","refresh_token":"tok-r"}`))
	}))
	defer server.Close()

	store := testStore(t, false)
	client := testClient(t, server.URL, store, fastPolicy())
	record, err := client.Login(context.Background(), "mira@example.com", testSecret(t, "password123"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if record.UserID != 42 || record.AccessToken != "tok-a" {
		t.Errorf("record = %+v", record)
	}
	if record.UserUUID == "" || record.DeviceUUID == "" {
		t.Error("installation UUIDs not generated on first login")
	}
	if store.Get() != record {
		t.Error("login record not stored")
	}
}

func TestLoginKeepsInstallationUUIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"result":"success","user_id":42,"access_token":"tok-a","refresh_token":"tok-r"}`))
	}))
	defer server.Close()

	store := testStore(t, true)
	before := store.Get()
	client := testClient(t, server.URL, store, fastPolicy())
	record, err := client.Login(context.Background(), "mira@example.com", testSecret(t, "password123"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if record.UserUUID != before.UserUUID || record.DeviceUUID != before.DeviceUUID {
		t.Error("installation UUIDs changed across logins")
	}
}

func TestStreamToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v2/users/stream_token" {
			t.Errorf("unexpected path %s", request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{"stream_token":"ws-token-1"}`))
	}))
	defer server.Close()

	client := testClient(t, server.URL, testStore(t, true), fastPolicy())
	token, err := client.StreamToken(context.Background())
	if err != nil {
		t.Fatalf("StreamToken failed: %v", err)
	}
	if token != "ws-token-1" {
		t.Errorf("token = %q", token)
	}
}
