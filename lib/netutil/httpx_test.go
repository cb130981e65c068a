// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"result":"success"}`))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if string(data) != `{"result":"success"}` {
		t.Errorf("unexpected body: %s", data)
	}
}

func TestReadResponseTruncatesAtLimit(t *testing.T) {
	oversized := strings.Repeat("x", int(MaxResponseSize)+1024)
	data, err := ReadResponse(strings.NewReader(oversized))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if int64(len(data)) != MaxResponseSize {
		t.Errorf("read %d bytes, want cap at %d", len(data), MaxResponseSize)
	}
}
