package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores V in a jsonb column and serializes as plain V over the API.
type JSONB[T any] struct {
	V T
}

func NewJSONB[T any](v T) JSONB[T] { return JSONB[T]{V: v} }

func (j JSONB[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB[T]) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		var zero T
		j.V = zero
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, &j.V)
}

func (j JSONB[T]) MarshalJSON() ([]byte, error) { return json.Marshal(j.V) }

func (j *JSONB[T]) UnmarshalJSON(b []byte) error { return json.Unmarshal(b, &j.V) }
