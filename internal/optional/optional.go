// Package optional provides a tri-state JSON field: absent, explicit null,
// or present with a value. It is used for partial updates where "not sent"
// and "sent as null" mean different things.
package optional

import (
	"bytes"
	"encoding/json"
)

// Field is the zero value when the key was absent from the payload.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Of returns a field holding v.
func Of[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// Null returns a field that was explicitly sent as null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// HasValue reports whether the field was sent with a non-null value.
func (f Field[T]) HasValue() bool {
	return f.Set && !f.Null
}

// Ptr returns nil for an explicit null and a pointer to the value otherwise.
// Callers check Set first.
func (f Field[T]) Ptr() *T {
	if f.Null {
		return nil
	}
	v := f.Value
	return &v
}

// UnmarshalJSON is only invoked when the key is present, so reaching it at
// all marks the field as set.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Set || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
