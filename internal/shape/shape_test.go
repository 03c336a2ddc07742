package shape_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

func TestNewRectangle_Validates(t *testing.T) {
	t.Parallel()

	s := shape.NewRectangle("r1", 10, 20, 100, 50)

	require.NoError(t, shape.Validate(s))

	if s.ID() != "r1" {
		t.Errorf("expected id r1, got %s", s.ID())
	}

	if s.KindOf() != shape.KindRectangle {
		t.Errorf("expected rectangle kind, got %s", s.KindOf())
	}
}

func TestNewText_DefaultBox(t *testing.T) {
	t.Parallel()

	s := shape.NewText("t1", 5, 5, "hello")

	require.NoError(t, shape.Validate(s))

	w, ok := shape.Number(s[shape.FieldWidth])
	if !ok || w != 120 {
		t.Errorf("expected default width 120, got %v", s[shape.FieldWidth])
	}
}

func TestValidate_IncompleteGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		state shape.State
	}{
		{"rectangle missing height", shape.State{
			shape.FieldKind: string(shape.KindRectangle),
			shape.FieldX:    1.0, shape.FieldY: 2.0, shape.FieldWidth: 3.0,
		}},
		{"circle missing radius", shape.State{
			shape.FieldKind: string(shape.KindCircle),
			shape.FieldX:    1.0, shape.FieldY: 2.0,
		}},
		{"line with odd point count", shape.State{
			shape.FieldKind:   string(shape.KindLine),
			shape.FieldPoints: []float64{0, 0, 10},
		}},
		{"line with single point", shape.State{
			shape.FieldKind:   string(shape.KindLine),
			shape.FieldPoints: []float64{0, 0},
		}},
		{"text without content", shape.State{
			shape.FieldKind: string(shape.KindText),
			shape.FieldX:    1.0, shape.FieldY: 2.0,
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := shape.Validate(tt.state)
			if !errors.Is(err, shape.ErrIncompleteGeometry) {
				t.Errorf("expected ErrIncompleteGeometry, got %v", err)
			}
		})
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	t.Parallel()

	err := shape.Validate(shape.State{shape.FieldKind: "hexagon"})
	if !errors.Is(err, shape.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestNormalize_RotationWraps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{370, 10},
		{-90, 270},
		{725, 5},
	}

	for _, tt := range tests {
		s := shape.NewRectangle("r", 0, 0, 10, 10)
		s[shape.FieldRotation] = tt.in

		got, _ := shape.Number(shape.Normalize(s)[shape.FieldRotation])
		if got != tt.want {
			t.Errorf("Normalize rotation %v: expected %v, got %v", tt.in, tt.want, got)
		}
	}
}

func TestNormalize_ClampsDimensions(t *testing.T) {
	t.Parallel()

	s := shape.NewRectangle("r", 0, 0, 0.2, -5)

	out := shape.Normalize(s)

	w, _ := shape.Number(out[shape.FieldWidth])
	h, _ := shape.Number(out[shape.FieldHeight])

	if w != shape.MinDimension || h != shape.MinDimension {
		t.Errorf("expected dimensions clamped to %v, got w=%v h=%v", shape.MinDimension, w, h)
	}
}

func TestNormalize_ClampsOpacity(t *testing.T) {
	t.Parallel()

	s := shape.NewCircle("c", 0, 0, 5)
	s[shape.FieldOpacity] = 1.8

	out := shape.Normalize(s)

	op, _ := shape.Number(out[shape.FieldOpacity])
	if op != 1 {
		t.Errorf("expected opacity clamped to 1, got %v", op)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	s := shape.NewRectangle("r", 0, 0, 10, 10)
	s[shape.FieldRotation] = 400.0

	_ = shape.Normalize(s)

	rot, _ := shape.Number(s[shape.FieldRotation])
	if rot != 400 {
		t.Errorf("input state mutated, rotation now %v", rot)
	}
}

func TestClone_CopiesPointSlices(t *testing.T) {
	t.Parallel()

	s := shape.NewLine("l", []float64{0, 0, 10, 10})

	clone := s.Clone()
	clone[shape.FieldPoints].([]float64)[0] = 99

	pts := s[shape.FieldPoints].([]float64)
	if pts[0] != 0 {
		t.Errorf("clone shares point slice with original, got %v", pts[0])
	}
}

func TestValidate_LineAfterJSONRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(shape.NewLine("l1", []float64{0, 0, 10, 10}))
	require.NoError(t, err)

	var decoded shape.State
	require.NoError(t, json.Unmarshal(raw, &decoded))

	require.NoError(t, shape.Validate(decoded))
}

func TestPoints_Coercion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  []float64
		ok    bool
	}{
		{"native slice", []float64{1, 2}, []float64{1, 2}, true},
		{"decoded slice", []any{1.0, 2.0}, []float64{1, 2}, true},
		{"mixed numerics", []any{1, int64(2), 3.5}, []float64{1, 2, 3.5}, true},
		{"non-numeric element", []any{1.0, "x"}, nil, false},
		{"not a slice", "1,2", nil, false},
		{"nil", nil, nil, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := shape.Points(tt.value)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}

			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestState_CloneCanonicalizesDecodedPoints(t *testing.T) {
	t.Parallel()

	s := shape.State{
		shape.FieldKind:   string(shape.KindLine),
		shape.FieldPoints: []any{0.0, 0.0, 10.0, 10.0},
	}

	clone := s.Clone()

	pts, ok := clone[shape.FieldPoints].([]float64)
	if !ok {
		t.Fatalf("expected []float64 points after clone, got %T", clone[shape.FieldPoints])
	}

	require.Equal(t, []float64{0, 0, 10, 10}, pts)
}
