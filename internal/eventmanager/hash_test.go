package eventmanager

import (
	"encoding/json"
	"testing"
)

func TestComputeHash_KeyOrderDoesNotMatter(t *testing.T) {
	a, err := computeHash(json.RawMessage(`{"variant":"RefreshAccount","account_id":"1"}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	b, err := computeHash(json.RawMessage(`{"account_id":"1","variant":"RefreshAccount"}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	if a != b {
		t.Errorf("hash depends on key order: %q != %q", a, b)
	}
}

func TestComputeHash_WhitespaceDoesNotMatter(t *testing.T) {
	a, err := computeHash(json.RawMessage(`{"variant":"Cleanup"}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	b, err := computeHash(json.RawMessage(`{ "variant" : "Cleanup" }`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	if a != b {
		t.Errorf("hash depends on whitespace: %q != %q", a, b)
	}
}

func TestComputeHash_DifferentPayloadsDiffer(t *testing.T) {
	a, _ := computeHash(json.RawMessage(`{"variant":"Cleanup"}`))
	b, _ := computeHash(json.RawMessage(`{"variant":"RefreshPoints"}`))
	if a == b {
		t.Error("different payloads produced the same hash")
	}
}

func TestComputeHash_Is32HexChars(t *testing.T) {
	h, err := computeHash(json.RawMessage(`{"variant":"SaveImage","basename":"a.jpg"}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	if len(h) != 32 {
		t.Errorf("hash length = %d, want 32 (hex of 128 bits)", len(h))
	}
}

func TestComputeHash_NestedObjectsSortedRecursively(t *testing.T) {
	a, err := computeHash(json.RawMessage(`{"outer":{"z":1,"a":2}}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	b, err := computeHash(json.RawMessage(`{"outer":{"a":2,"z":1}}`))
	if err != nil {
		t.Fatalf("computeHash: %v", err)
	}
	if a != b {
		t.Errorf("hash depends on nested key order: %q != %q", a, b)
	}
}
