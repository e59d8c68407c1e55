package sqlite

import (
	"encoding/json"
	"strings"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// marshalStringSlice encodes a string slice as JSON text. Empty slices encode
// as "[]" so columns are never NULL.
func marshalStringSlice(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStringSlice(data string) []string {
	if data == "" || data == "[]" {
		return []string{}
	}
	list := []string{}
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return []string{}
	}
	return list
}

// marshalVector encodes an embedding as JSON text. A nil embedding encodes as
// the empty string, which maps to NULL on write.
func marshalVector(vector []float32) string {
	if len(vector) == 0 {
		return ""
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalVector(data string) []float32 {
	if data == "" {
		return nil
	}
	vector := []float32{}
	if err := json.Unmarshal([]byte(data), &vector); err != nil {
		return nil
	}
	return vector
}
