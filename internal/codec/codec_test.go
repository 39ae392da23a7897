package codec

import (
	"reflect"
	"testing"
)

func TestRoundTripNestedDocument(t *testing.T) {
	value := map[string]any{
		"name":  "alice",
		"age":   int64(30),
		"admin": true,
		"tags":  []any{"a", "b"},
		"address": map[string]any{
			"city": "berlin",
			"zip":  int64(10115),
		},
		"score": 1.5,
		"none":  nil,
	}

	encoded, err := Encode(value)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !reflect.DeepEqual(decoded, value) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", decoded, value)
	}
}

func TestDecodeYieldsTraversableMaps(t *testing.T) {
	encoded, err := Encode(map[string]any{"nested": map[string]any{"field": "value"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", decoded)
	}
	nested, ok := top["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map[string]any, got %T", top["nested"])
	}
	if nested["field"] != "value" {
		t.Fatalf("unexpected nested value: %v", nested["field"])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Fatal("expected error for reserved byte")
	}
}
