package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrEncoding indicates an entity could not be turned into a payload.
	ErrEncoding = errors.New("payload encoding failed")
	// ErrPayloadMalformed indicates a payload is not a JSON object.
	ErrPayloadMalformed = errors.New("payload is not a field mapping")
)

// EncodeCreate serializes the whole entity as the payload of a creation event.
func EncodeCreate(entity any) (json.RawMessage, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

// EncodeDiff returns a payload holding only the fields whose encoded value
// differs between before and after, with the values taken from after.
// Both values must encode to JSON objects. Without changes the payload is {}.
func EncodeDiff(before, after any) (json.RawMessage, error) {
	old, err := fieldsOf(before)
	if err != nil {
		return nil, err
	}
	cur, err := fieldsOf(after)
	if err != nil {
		return nil, err
	}

	diff := make(map[string]json.RawMessage)
	for name, value := range cur {
		if prev, ok := old[name]; ok && bytes.Equal(prev, value) {
			continue
		}
		diff[name] = value
	}

	data, err := json.Marshal(diff)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

// Fields parses a payload into its field mapping.
func Fields(payload json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null payload", ErrPayloadMalformed)
	}
	return fields, nil
}

// Merge overwrites each destination in dst whose field name is present in
// the payload. dst maps field names to pointers. Absent fields, null values
// and values that do not decode into the destination type leave the
// destination untouched.
func Merge(payload json.RawMessage, dst map[string]any) error {
	fields, err := Fields(payload)
	if err != nil {
		return err
	}
	for name, ptr := range dst {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		target := reflect.ValueOf(ptr)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			continue
		}
		value := reflect.New(target.Type().Elem())
		if err := json.Unmarshal(raw, value.Interface()); err != nil {
			continue
		}
		target.Elem().Set(value.Elem())
	}
	return nil
}

func fieldsOf(v any) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: %T does not encode to an object", ErrEncoding, v)
	}
	return fields, nil
}
