// Package codec serializes document payloads into the compact binary
// representation stored in the data keyspace. Values round-trip arbitrary
// JSON-like structures: maps, arrays, numbers, strings, booleans and null.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes a document value.
func Encode(value any) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Decode deserializes a stored document value. Maps decode as
// map[string]any and arrays as []any so query filters can traverse them
// without reflection.
func Decode(data []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	value, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return value, nil
}
