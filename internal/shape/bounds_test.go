package shape_test

import (
	"encoding/json"
	"testing"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

func TestBounds_Circle(t *testing.T) {
	t.Parallel()

	s := shape.NewCircle("c", 100, 100, 30)

	r, ok := shape.Bounds(s)
	if !ok {
		t.Fatal("expected bounds for complete circle")
	}

	want := shape.Rect{X: 70, Y: 70, Width: 60, Height: 60}
	if r != want {
		t.Errorf("expected %+v, got %+v", want, r)
	}
}

func TestBounds_Line(t *testing.T) {
	t.Parallel()

	s := shape.NewLine("l", []float64{50, 10, 0, 40, 30, 5})

	r, ok := shape.Bounds(s)
	if !ok {
		t.Fatal("expected bounds for complete line")
	}

	want := shape.Rect{X: 0, Y: 5, Width: 50, Height: 35}
	if r != want {
		t.Errorf("expected %+v, got %+v", want, r)
	}
}

func TestBounds_IncompleteGeometry(t *testing.T) {
	t.Parallel()

	s := shape.State{shape.FieldKind: string(shape.KindRectangle), shape.FieldX: 1.0}

	if _, ok := shape.Bounds(s); ok {
		t.Error("expected no bounds for incomplete rectangle")
	}
}

func TestRect_Intersects(t *testing.T) {
	t.Parallel()

	a := shape.Rect{X: 0, Y: 0, Width: 10, Height: 10}

	tests := []struct {
		name string
		b    shape.Rect
		want bool
	}{
		{"overlapping", shape.Rect{X: 5, Y: 5, Width: 10, Height: 10}, true},
		{"touching edge", shape.Rect{X: 10, Y: 0, Width: 5, Height: 5}, true},
		{"disjoint", shape.Rect{X: 20, Y: 20, Width: 5, Height: 5}, false},
		{"contained", shape.Rect{X: 2, Y: 2, Width: 2, Height: 2}, true},
	}

	for _, tt := range tests {
		if got := a.Intersects(tt.b); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestRect_Union(t *testing.T) {
	t.Parallel()

	a := shape.Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := shape.Rect{X: 20, Y: 5, Width: 10, Height: 10}

	got := a.Union(b)

	want := shape.Rect{X: 0, Y: 0, Width: 30, Height: 15}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestBounds_LineAfterJSONRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(shape.NewLine("l", []float64{0, 0, 40, 25}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded shape.State
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Decoding turns the point slice into []any; bounds must still resolve.
	r, ok := shape.Bounds(decoded)
	if !ok {
		t.Fatal("expected bounds for decoded line")
	}

	want := shape.Rect{X: 0, Y: 0, Width: 40, Height: 25}
	if r != want {
		t.Errorf("expected %+v, got %+v", want, r)
	}
}
