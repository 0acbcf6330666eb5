// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	// Maps are the dangerous case: Go iteration order is randomized,
	// so a non-canonical encoder would produce different bytes across
	// calls.
	value := map[string]any{
		"filePath": "/src/a.js",
		"env":      map[string]any{"context": "browser", "outputFormat": "esmodule"},
		"code":     nil,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (iteration %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("iteration %d produced different bytes:\n  first: %x\n  again: %x", i, first, again)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	type entry struct {
		FilePath string         `cbor:"filePath"`
		Hash     string         `cbor:"hash"`
		Meta     map[string]any `cbor:"meta,omitempty"`
	}

	in := entry{
		FilePath: "/src/a.js",
		Hash:     "abc123",
		Meta:     map[string]any{"kind": "script"},
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out entry
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.FilePath != in.FilePath || out.Hash != in.Hash {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if out.Meta["kind"] != "script" {
		t.Errorf("meta round trip: got %v", out.Meta)
	}
}

func TestDecodeIntoAny(t *testing.T) {
	data, err := Marshal(map[string]any{"a": map[string]any{"b": "c"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	// DefaultMapType must give map[string]any, not
	// map[interface{}]interface{}.
	top, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("decoded top-level type is %T, want map[string]any", out)
	}
	if _, ok := top["a"].(map[string]any); !ok {
		t.Fatalf("decoded nested type is %T, want map[string]any", top["a"])
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	diag, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if diag == "" {
		t.Error("Diagnose returned empty string")
	}
}
