package policy

import (
	"encoding/json"
	"fmt"
)

type optionalState uint8

const (
	stateUnset optionalState = iota
	stateNull
	stateValue
)

// Optional distinguishes "not specified" from "explicitly disabled" for
// policies that have a non-empty default. The zero value is unset.
type Optional[T any] struct {
	value T
	state optionalState
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, state: stateValue}
}

// Null returns an Optional that explicitly disables the policy.
func Null[T any]() Optional[T] {
	return Optional[T]{state: stateNull}
}

// IsUnset reports whether no value was specified.
func (o Optional[T]) IsUnset() bool { return o.state == stateUnset }

// IsNull reports whether the policy was explicitly disabled.
func (o Optional[T]) IsNull() bool { return o.state == stateNull }

// Get returns the value and whether one is held.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == stateValue
}

// Or returns the held value, def when unset, and reports false when null.
func (o Optional[T]) Or(def T) (T, bool) {
	switch o.state {
	case stateValue:
		return o.value, true
	case stateNull:
		var zero T
		return zero, false
	default:
		return def, true
	}
}

// MarshalJSON encodes a held value, and null otherwise.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.state != stateValue {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON sets the null state for a JSON null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o Optional[T]) String() string {
	switch o.state {
	case stateValue:
		return fmt.Sprint(o.value)
	case stateNull:
		return "null"
	default:
		return "unset"
	}
}

// Bool returns a pointer to b, for the boolean PackConfig fields.
func Bool(b bool) *bool { return &b }
