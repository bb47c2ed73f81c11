package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Float is an optional float64. The zero value is absent, so a present zero
// and a missing value are never confused.
type Float struct {
	v  float64
	ok bool
}

// Some returns a present Float holding v.
func Some(v float64) Float { return Float{v: v, ok: true} }

// None returns an absent Float.
func None() Float { return Float{} }

// Get returns the value and whether it is present.
func (f Float) Get() (float64, bool) { return f.v, f.ok }

// Present reports whether a value is held.
func (f Float) Present() bool { return f.ok }

// Or returns the held value, or def when absent.
func (f Float) Or(def float64) float64 {
	if !f.ok {
		return def
	}
	return f.v
}

// Less reports f < o. False if either side is absent.
func (f Float) Less(o Float) bool {
	return f.ok && o.ok && f.v < o.v
}

// Greater reports f > o. False if either side is absent.
func (f Float) Greater(o Float) bool {
	return f.ok && o.ok && f.v > o.v
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
// Useful for nullable database columns.
func (f Float) Ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr(p *float64) Float {
	if p == nil {
		return None()
	}
	return Some(*p)
}

func (f Float) String() string {
	if !f.ok {
		return "n/a"
	}
	return strconv.FormatFloat(f.v, 'f', -1, 64)
}

// MarshalJSON encodes an absent value as null.
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// UnmarshalJSON decodes null as absent.
func (f *Float) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = None()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Some(v)
	return nil
}
