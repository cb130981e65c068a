// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/loop-social/loopkit/identity"
	"github.com/loop-social/loopkit/lib/secret"
	"github.com/loop-social/loopkit/lib/version"
	"github.com/loop-social/loopkit/session"
)

// AuthResponse is returned by the sign-in and token-refresh endpoints,
// already translated to domain key convention.
type AuthResponse struct {
	Result       string `json:"result"`
	UserID       int64  `json:"userId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login authenticates with email and password and stores the resulting
// session. Installation UUIDs are generated on first login and reused
// across logins — they identify the installation, not the account.
//
// The password buffer is read, not consumed — the caller retains
// ownership.
func (c *Client) Login(ctx context.Context, email string, password *secret.Buffer) (session.Record, error) {
	if email == "" {
		return session.Record{}, fmt.Errorf("transport: email is required for login")
	}
	if password == nil {
		return session.Record{}, fmt.Errorf("transport: password is required for login")
	}

	existing := c.store.Get()
	userUUID := existing.UserUUID
	if userUUID == "" {
		userUUID = identity.NewInstallationUUID()
	}
	deviceUUID := existing.DeviceUUID
	if deviceUUID == "" {
		deviceUUID = identity.NewInstallationUUID()
	}

	// Password is converted to string at the JSON serialization
	// boundary; the heap copy is short-lived.
	body, err := c.Request(ctx, RequestDescriptor{
		Method: http.MethodPost,
		Path:   "/v2/users/sign_in",
		Body: map[string]any{
			"email":      email,
			"password":   password.String(),
			"uuid":       userUUID,
			"appVersion": version.App,
		},
	})
	if err != nil {
		return session.Record{}, fmt.Errorf("transport: login failed: %w", err)
	}

	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return session.Record{}, fmt.Errorf("transport: parsing login response: %w", err)
	}

	record := session.Record{
		Email:        email,
		UserID:       auth.UserID,
		UserUUID:     userUUID,
		DeviceUUID:   deviceUUID,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
	}
	if err := c.store.Set(record); err != nil {
		return session.Record{}, fmt.Errorf("transport: storing session: %w", err)
	}

	c.logger.Info("logged in",
		"user_id", auth.UserID,
		"device_uuid", deviceUUID,
	)
	return record, nil
}

// Logout signs out on the server (best effort) and destroys the local
// session store.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.Request(ctx, RequestDescriptor{
		Method:      http.MethodPost,
		Path:        "/v2/users/sign_out",
		RequireAuth: true,
	}); err != nil {
		c.logger.Warn("sign out request failed, destroying local session anyway", "error", err)
	}
	return c.store.Destroy()
}

// StreamToken mints the short-lived token the gateway requires for its
// connection URL.
func (c *Client) StreamToken(ctx context.Context) (string, error) {
	body, err := c.Request(ctx, RequestDescriptor{
		Method:      http.MethodGet,
		Path:        "/v2/users/stream_token",
		RequireAuth: true,
	})
	if err != nil {
		return "", fmt.Errorf("transport: minting stream token: %w", err)
	}

	var response struct {
		StreamToken string `json:"streamToken"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("transport: parsing stream token response: %w", err)
	}
	if response.StreamToken == "" {
		return "", fmt.Errorf("transport: stream token response is empty")
	}
	return response.StreamToken, nil
}

// RefreshTokens forces a token refresh cycle regardless of whether the
// current access token has been observed as expired. Request performs
// this automatically on expiry; calling it directly is only useful for
// tools that want to renew a session proactively.
func (c *Client) RefreshTokens(ctx context.Context) error {
	return c.refreshTokens(ctx, c.store.Get().AccessToken)
}

// refreshTokens exchanges the stored refresh token for a fresh token
// pair and writes it back to the session store. At most one refresh is
// in flight: callers that lose the race observe the already-updated
// store and return without a second exchange.
func (c *Client) refreshTokens(ctx context.Context, staleToken string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	record := c.store.Get()
	if record.AccessToken != staleToken {
		// Another request completed a refresh while this one waited.
		return nil
	}
	if record.RefreshToken == "" {
		return fmt.Errorf("transport: no refresh token available")
	}

	// Issued through do, not Request: the refresh exchange must never
	// trigger a nested refresh cycle.
	body, err := c.do(ctx, RequestDescriptor{
		Method: http.MethodPost,
		Path:   "/v2/users/token_refresh",
		Body: map[string]any{
			"grantType":    "refresh_token",
			"refreshToken": record.RefreshToken,
		},
	})
	if err != nil {
		return fmt.Errorf("transport: refresh exchange: %w", err)
	}

	var auth AuthResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("transport: parsing refresh response: %w", err)
	}
	if auth.AccessToken == "" || auth.RefreshToken == "" {
		return fmt.Errorf("transport: refresh response is missing tokens")
	}

	if err := c.store.UpdateTokens(auth.AccessToken, auth.RefreshToken); err != nil {
		return fmt.Errorf("transport: storing refreshed tokens: %w", err)
	}
	c.logger.Info("refreshed access token", "user_id", record.UserID)
	return nil
}
