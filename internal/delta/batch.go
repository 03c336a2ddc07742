package delta

import (
	"reflect"

	"github.com/arialgardner/techno-canvas/internal/shape"
)

// MinBatchSize is the shape count below which batch compression does not pay
// for itself and shapes are transmitted individually.
const MinBatchSize = 10

// Batch is the compressed form of a run of shapes sharing most properties:
// the common fields are factored into Base once and each shape keeps only
// its variation from that base.
type Batch struct {
	Type       string      `json:"type"`
	ShapeType  shape.Kind  `json:"shapeType"`
	Base       shape.State `json:"baseProperties"`
	Variations []Delta     `json:"variations"`
}

// BatchMarker is the Type value identifying a compressed batch on the wire.
const BatchMarker = "batch"

// ShouldCompress reports whether the shape set is large enough to batch.
func ShouldCompress(shapes []shape.State) bool {
	return len(shapes) >= MinBatchSize
}

// Compress factors the shapes into one batch per kind. Input order is
// preserved within each kind so Decompress reconstructs the original set.
func Compress(shapes []shape.State) []Batch {
	byKind := make(map[shape.Kind][]shape.State)

	var kinds []shape.Kind

	for _, s := range shapes {
		k := s.KindOf()
		if _, seen := byKind[k]; !seen {
			kinds = append(kinds, k)
		}

		byKind[k] = append(byKind[k], s)
	}

	batches := make([]Batch, 0, len(kinds))

	for _, k := range kinds {
		group := byKind[k]
		base := commonFields(group)

		variations := make([]Delta, len(group))
		for i, s := range group {
			variations[i] = Diff(base, s)
		}

		batches = append(batches, Batch{
			Type:       BatchMarker,
			ShapeType:  k,
			Base:       base,
			Variations: variations,
		})
	}

	return batches
}

// Decompress reconstructs the shape states from compressed batches. The
// result carries exactly the shapes given to Compress, grouped by kind in
// first-seen order; order within each kind is preserved.
func Decompress(batches []Batch) []shape.State {
	var out []shape.State

	for _, b := range batches {
		for _, v := range b.Variations {
			out = append(out, Apply(b.Base, v))
		}
	}

	return out
}

// commonFields returns the fields present with an equal value in every state.
func commonFields(group []shape.State) shape.State {
	if len(group) == 0 {
		return shape.State{}
	}

	base := group[0].Clone()

	for _, s := range group[1:] {
		for k, v := range base {
			if other, ok := s[k]; !ok || !reflect.DeepEqual(other, v) {
				delete(base, k)
			}
		}
	}

	return base
}
