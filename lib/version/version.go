// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds the SDK version and the mobile app version the
// Loop API expects in request headers.
package version

import "fmt"

// SDK is the loopkit release version.
const SDK = "0.4.0"

// App is the Loop mobile app version presented to the API in the
// X-App-Version header and the gateway connection URL. The remote
// service gates features and response shapes on this value, so it must
// track a released app build.
const App = "3.41.0"

// Info returns a human-readable version string for CLI output.
func Info() string {
	return fmt.Sprintf("loopkit %s (app %s)", SDK, App)
}
