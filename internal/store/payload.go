package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is an open-ended nested key-value structure supplied by callers
// alongside an episode (problem, solution, metadata). The engine treats it
// opaquely except for the handful of named fields the scoring functions
// inspect. Values round-trip through the store as JSON: strings, float64
// numbers, bools, nil, nested maps, and []any lists survive semantically
// intact, including null leaves and empty arrays.
type Payload map[string]any

// String returns the string value at key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Count returns the number of elements at key when the value is a list or a
// map, 0 otherwise. Used for dependency/trigger counting during scoring.
func (p Payload) Count(key string) int {
	if p == nil {
		return 0
	}
	switch v := p[key].(type) {
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	default:
		return 0
	}
}

// Keywords returns the lowercased keys of the payload for loose matching.
func (p Payload) Keywords() []string {
	if len(p) == 0 {
		return nil
	}
	words := make([]string, 0, len(p))
	for k := range p {
		words = append(words, strings.ToLower(k))
	}
	return words
}

func marshalPayload(p Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(data string) (Payload, error) {
	if data == "" || data == "{}" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return p, nil
}

func marshalInt64s(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshaling id list: %w", err)
	}
	return string(data), nil
}

func unmarshalInt64s(data string) ([]int64, error) {
	if data == "" {
		return []int64{}, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshaling id list: %w", err)
	}
	return ids, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	if data == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshaling string list: %w", err)
	}
	return values, nil
}
