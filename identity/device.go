// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity models the device identity the Loop API expects and
// builds the per-request header set from it. Header construction is a
// pure transformation: no network or disk I/O, deterministic given its
// inputs and the supplied timestamp.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// Device describes the hardware identity presented to the API. The
// remote service derives the user agent check and feature gating from
// these fields, so they must look like a real device.
type Device struct {
	// Type is the platform identifier (e.g., "android").
	Type string
	// OSVersion is the platform version (e.g., "11").
	OSVersion string
	// ScreenDensity is the display density multiplier (e.g., "3.5").
	ScreenDensity string
	// ScreenSize is the display resolution (e.g., "1440x3040").
	ScreenSize string
	// Model is the hardware model name (e.g., "Galaxy S10").
	Model string
}

// DefaultDevice returns the device profile loopkit presents by default.
func DefaultDevice() Device {
	return Device{
		Type:          "android",
		OSVersion:     "11",
		ScreenDensity: "3.5",
		ScreenSize:    "1440x3040",
		Model:         "Galaxy S10",
	}
}

// UserAgent derives the user-agent string from the device fields. The
// format mirrors what the official mobile client sends; the API rejects
// requests whose user agent does not parse.
func (d Device) UserAgent() string {
	return fmt.Sprintf("%s %s (%sx %s %s)", d.Type, d.OSVersion, d.ScreenDensity, d.ScreenSize, d.Model)
}

// NewInstallationUUID generates the per-installation identifier used
// for deviceUuid and userUuid. Generated once and stable across logins.
func NewInstallationUUID() string {
	return uuid.NewString()
}
