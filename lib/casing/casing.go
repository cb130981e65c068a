// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package casing translates JSON object keys between the SDK's domain
// convention (camelCase) and the Loop API's wire convention
// (snake_case).
//
// Translation is total: every key at every nesting level is converted,
// through maps, arrays of maps, and arrays of arrays. Values are never
// touched. For keys that are canonical camelCase (no leading capital,
// no consecutive capitals), Snake and Camel are inverses, so a
// domain→wire→domain round trip yields a structurally identical object.
package casing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Snake converts a camelCase key to snake_case: "fontSize" →
// "font_size", "coverImageUrl" → "cover_image_url". Keys without
// capitals pass through unchanged.
func Snake(key string) string {
	var builder strings.Builder
	builder.Grow(len(key) + 4)
	for _, r := range key {
		if unicode.IsUpper(r) {
			builder.WriteByte('_')
			builder.WriteRune(unicode.ToLower(r))
		} else {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// Camel converts a snake_case key to camelCase: "font_size" →
// "fontSize". Keys without underscores pass through unchanged.
func Camel(key string) string {
	var builder strings.Builder
	builder.Grow(len(key))
	upperNext := false
	for _, r := range key {
		if r == '_' {
			upperNext = true
			continue
		}
		if upperNext {
			builder.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// ConvertKeys returns a copy of value with every object key at every
// nesting level passed through convert. Arrays are walked element by
// element; scalar values are returned unchanged.
func ConvertKeys(value any, convert func(string) string) any {
	switch typed := value.(type) {
	case map[string]any:
		converted := make(map[string]any, len(typed))
		for key, element := range typed {
			converted[convert(key)] = ConvertKeys(element, convert)
		}
		return converted
	case []any:
		converted := make([]any, len(typed))
		for index, element := range typed {
			converted[index] = ConvertKeys(element, convert)
		}
		return converted
	default:
		return value
	}
}

// JSONToWire rewrites all object keys in a JSON document from
// camelCase to snake_case. Numbers are preserved exactly (decoded as
// json.Number, not float64).
func JSONToWire(data []byte) ([]byte, error) {
	return convertJSON(data, Snake)
}

// JSONToDomain rewrites all object keys in a JSON document from
// snake_case to camelCase.
func JSONToDomain(data []byte) ([]byte, error) {
	return convertJSON(data, Camel)
}

func convertJSON(data []byte, convert func(string) string) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("casing: decoding document: %w", err)
	}

	converted, err := json.Marshal(ConvertKeys(value, convert))
	if err != nil {
		return nil, fmt.Errorf("casing: encoding document: %w", err)
	}
	return converted, nil
}
