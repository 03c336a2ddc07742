// Package delta implements the field-level difference algebra the sync
// engine is built on: a delta carries only the fields that changed between
// two shape states, applies as a shallow merge, and inverts exactly against
// the state it was computed from.
package delta

import (
	"reflect"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// Delta maps field names to new values. A nil value clears the field, which
// is how an inverse undoes a field the base state never had.
type Delta map[string]any

// Diff returns the fields of next whose values differ from prev, plus a nil
// entry for every prev field that next dropped. Diff(s, s) is empty.
func Diff(prev, next shape.State) Delta {
	d := make(Delta)

	for k, v := range next {
		old, ok := prev[k]
		if !ok || !reflect.DeepEqual(old, v) {
			d[k] = v
		}
	}

	for k := range prev {
		if _, ok := next[k]; !ok {
			d[k] = nil
		}
	}

	return d
}

// Apply returns a copy of the state with the delta merged in. Fields set to
// nil in the delta are removed.
func Apply(s shape.State, d Delta) shape.State {
	out := s.Clone()
	if out == nil {
		out = make(shape.State, len(d))
	}

	for k, v := range d {
		if v == nil {
			delete(out, k)

			continue
		}

		out[k] = v
	}

	return out
}

// Invert produces the delta that undoes d against base: for every key d
// touches, the inverse carries base's value (nil when base lacked the key).
// Applying the inverse after applying d restores base for those fields even
// if other fields changed in between.
func Invert(d Delta, base shape.State) Delta {
	inv := make(Delta, len(d))

	for k := range d {
		if v, ok := base[k]; ok {
			inv[k] = v
		} else {
			inv[k] = nil
		}
	}

	return inv
}

// Merge folds deltas left to right; later deltas win per key.
func Merge(deltas ...Delta) Delta {
	out := make(Delta)

	for _, d := range deltas {
		for k, v := range d {
			out[k] = v
		}
	}

	return out
}
