package shape

// Rect is an axis-aligned rectangle in canvas (shape-space) coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Intersects reports whether two rectangles overlap or touch.
func (r Rect) Intersects(o Rect) bool {
	return r.X <= o.X+o.Width &&
		o.X <= r.X+r.Width &&
		r.Y <= o.Y+o.Height &&
		o.Y <= r.Y+r.Height
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	minX := min(r.X, o.X)
	minY := min(r.Y, o.Y)
	maxX := max(r.X+r.Width, o.X+o.Width)
	maxY := max(r.Y+r.Height, o.Y+o.Height)

	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Bounds returns the bounding box for the state's geometry. The second
// return value is false when the geometry is incomplete.
func Bounds(s State) (Rect, bool) {
	switch s.KindOf() {
	case KindRectangle, KindText:
		x, okX := Number(s[FieldX])
		y, okY := Number(s[FieldY])
		w, okW := Number(s[FieldWidth])
		h, okH := Number(s[FieldHeight])

		if !okX || !okY || !okW || !okH {
			return Rect{}, false
		}

		return Rect{X: x, Y: y, Width: w, Height: h}, true
	case KindCircle:
		x, okX := Number(s[FieldX])
		y, okY := Number(s[FieldY])
		r, okR := Number(s[FieldRadius])

		if !okX || !okY || !okR {
			return Rect{}, false
		}

		return Rect{X: x - r, Y: y - r, Width: 2 * r, Height: 2 * r}, true
	case KindLine:
		pts, ok := Points(s[FieldPoints])
		if !ok || len(pts) < 4 || len(pts)%2 != 0 {
			return Rect{}, false
		}

		minX, minY := pts[0], pts[1]
		maxX, maxY := pts[0], pts[1]

		for i := 2; i < len(pts); i += 2 {
			minX = min(minX, pts[i])
			maxX = max(maxX, pts[i])
			minY = min(minY, pts[i+1])
			maxY = max(maxY, pts[i+1])
		}

		return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
	default:
		return Rect{}, false
	}
}
