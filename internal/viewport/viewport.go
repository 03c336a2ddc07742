// Package viewport derives the subset of shapes worth rendering from the
// current pan/zoom transform. Performance, not correctness: everything
// still converges whether or not it is culled.
package viewport

import (
	"sort"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// DefaultCullThreshold is the shape count below which culling is skipped:
// small canvases render everything, avoiding the bookkeeping overhead.
const DefaultCullThreshold = 100

// Transform is the current camera: screen = canvas*Zoom + Pan.
type Transform struct {
	PanX float64
	PanY float64
	Zoom float64
}

// Size is the viewport's pixel dimensions.
type Size struct {
	Width  float64
	Height float64
}

// VisibleRect computes the canvas-space rectangle currently on screen.
// A non-positive zoom is treated as 1.
func VisibleRect(t Transform, s Size) shape.Rect {
	zoom := t.Zoom
	if zoom <= 0 {
		zoom = 1
	}

	return shape.Rect{
		X:      -t.PanX / zoom,
		Y:      -t.PanY / zoom,
		Width:  s.Width / zoom,
		Height: s.Height / zoom,
	}
}

// Culler selects the visible shape subset.
type Culler struct {
	Threshold int // shape count below which everything is returned
}

// NewCuller creates a culler with the default threshold.
func NewCuller() Culler {
	return Culler{Threshold: DefaultCullThreshold}
}

// Cull returns the ids of shapes whose bounding box intersects the visible
// rect, sorted for deterministic output. Below the threshold every id is
// returned. Callers must re-run this whenever the transform changes and
// whenever the shape set's size changes; a shape created off the cached
// visible set still has to appear once added.
func (c Culler) Cull(shapes map[string]shape.State, visible shape.Rect) []string {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = DefaultCullThreshold
	}

	ids := make([]string, 0, len(shapes))

	if len(shapes) < threshold {
		for id := range shapes {
			ids = append(ids, id)
		}

		sort.Strings(ids)

		return ids
	}

	for id, s := range shapes {
		bounds, ok := shape.Bounds(s)
		if !ok {
			// Unresolvable geometry stays rendered rather than vanishing.
			ids = append(ids, id)

			continue
		}

		if bounds.Intersects(visible) {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}
