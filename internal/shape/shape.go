package shape

import (
	"errors"
	"math"
)

// Common errors.
var (
	ErrUnknownKind        = errors.New("unknown shape kind")
	ErrIncompleteGeometry = errors.New("incomplete geometry for shape kind")
)

// Kind identifies the geometric type of a shape.
type Kind string

const (
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindLine      Kind = "line"
	KindText      Kind = "text"
)

// Field names shared across the engine. A shape is a flat field map so the
// delta codec and last-write-wins merging can treat every attribute uniformly.
const (
	FieldID             = "id"
	FieldKind           = "type"
	FieldX              = "x"
	FieldY              = "y"
	FieldWidth          = "width"
	FieldHeight         = "height"
	FieldRadius         = "radius"
	FieldPoints         = "points"
	FieldText           = "text"
	FieldFill           = "fill"
	FieldStroke         = "stroke"
	FieldStrokeWidth    = "strokeWidth"
	FieldOpacity        = "opacity"
	FieldRotation       = "rotation"
	FieldZIndex         = "zIndex"
	FieldCreatedBy      = "createdBy"
	FieldCreatedAt      = "createdAt"
	FieldLastModifiedBy = "lastModifiedBy"
	FieldLastModifiedAt = "lastModifiedAt"
)

// MinDimension is the smallest width, height or radius persisted for any
// shape. Mutations that would shrink a shape below it are clamped.
const MinDimension = 1.0

// State holds every field of a single shape.
type State map[string]any

// Clone returns a copy of the state. Point slices are copied so callers can
// mutate the clone freely, and JSON-decoded point slices come back in their
// canonical []float64 form.
func (s State) Clone() State {
	if s == nil {
		return nil
	}

	out := make(State, len(s))

	for k, v := range s {
		if pts, ok := Points(v); ok {
			cp := make([]float64, len(pts))
			copy(cp, pts)
			v = cp
		}

		out[k] = v
	}

	return out
}

// ID returns the shape's id, or "" when unset.
func (s State) ID() string {
	id, _ := s[FieldID].(string)

	return id
}

// KindOf returns the shape's kind, or "" when unset.
func (s State) KindOf() Kind {
	k, _ := s[FieldKind].(string)

	return Kind(k)
}

// LastModifiedAt returns the shape's modification timestamp in unix
// milliseconds, or 0 when unset.
func (s State) LastModifiedAt() int64 {
	v, _ := Number(s[FieldLastModifiedAt])

	return int64(v)
}

// Number coerces a field value to float64. JSON decoding produces float64,
// but in-process states may carry int or int64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Points coerces a field value to a flat point slice. States that crossed
// JSON (the operation feed, the relay, database rows) carry points as []any,
// in-process states as []float64.
func Points(v any) ([]float64, bool) {
	switch pts := v.(type) {
	case []float64:
		return pts, true
	case []any:
		out := make([]float64, len(pts))

		for i, p := range pts {
			n, ok := Number(p)
			if !ok {
				return nil, false
			}

			out[i] = n
		}

		return out, true
	default:
		return nil, false
	}
}

// baseStyle returns the style fields every new shape starts with.
func baseStyle() State {
	return State{
		FieldFill:        "#000000",
		FieldStroke:      "#000000",
		FieldStrokeWidth: 1.0,
		FieldOpacity:     1.0,
		FieldRotation:    0.0,
		FieldZIndex:      0,
	}
}

// NewRectangle creates a rectangle state.
func NewRectangle(id string, x, y, width, height float64) State {
	s := baseStyle()
	s[FieldID] = id
	s[FieldKind] = string(KindRectangle)
	s[FieldX] = x
	s[FieldY] = y
	s[FieldWidth] = width
	s[FieldHeight] = height

	return s
}

// NewCircle creates a circle state. x and y are the center.
func NewCircle(id string, x, y, radius float64) State {
	s := baseStyle()
	s[FieldID] = id
	s[FieldKind] = string(KindCircle)
	s[FieldX] = x
	s[FieldY] = y
	s[FieldRadius] = radius

	return s
}

// NewLine creates a line state from a flat [x0 y0 x1 y1 ...] point sequence.
func NewLine(id string, points []float64) State {
	s := baseStyle()
	s[FieldID] = id
	s[FieldKind] = string(KindLine)
	s[FieldPoints] = points

	return s
}

// NewText creates a text state. Width and height describe the text box.
func NewText(id string, x, y float64, text string) State {
	s := baseStyle()
	s[FieldID] = id
	s[FieldKind] = string(KindText)
	s[FieldX] = x
	s[FieldY] = y
	s[FieldText] = text
	s[FieldWidth] = 120.0
	s[FieldHeight] = 24.0

	return s
}

// Validate checks that the geometry for the state's kind is complete.
func Validate(s State) error {
	has := func(field string) bool {
		_, ok := Number(s[field])

		return ok
	}

	switch s.KindOf() {
	case KindRectangle:
		if !has(FieldX) || !has(FieldY) || !has(FieldWidth) || !has(FieldHeight) {
			return ErrIncompleteGeometry
		}
	case KindCircle:
		if !has(FieldX) || !has(FieldY) || !has(FieldRadius) {
			return ErrIncompleteGeometry
		}
	case KindLine:
		pts, ok := Points(s[FieldPoints])
		if !ok || len(pts) < 4 || len(pts)%2 != 0 {
			return ErrIncompleteGeometry
		}
	case KindText:
		if !has(FieldX) || !has(FieldY) {
			return ErrIncompleteGeometry
		}

		if _, ok := s[FieldText].(string); !ok {
			return ErrIncompleteGeometry
		}
	default:
		return ErrUnknownKind
	}

	return nil
}

// Normalize returns a copy of the state with rotation wrapped into [0,360),
// dimensions clamped to the minimum floor and opacity clamped to [0,1].
// It is applied before any state is persisted.
func Normalize(s State) State {
	out := s.Clone()

	if deg, ok := Number(out[FieldRotation]); ok {
		deg = math.Mod(deg, 360)
		if deg < 0 {
			deg += 360
		}

		out[FieldRotation] = deg
	}

	for _, field := range []string{FieldWidth, FieldHeight, FieldRadius} {
		if v, ok := Number(out[field]); ok && v < MinDimension {
			out[field] = MinDimension
		}
	}

	if op, ok := Number(out[FieldOpacity]); ok {
		out[FieldOpacity] = math.Max(0, math.Min(1, op))
	}

	return out
}
