// Package anchors - YOLOv4 anchor boxes and per-scale anchor masks.
package anchors

import (
	"fmt"

	"github.com/pkg/errors"
)

// NumAnchors is the size of the full anchor table.
const NumAnchors = 9

// PerScale is the number of anchors assigned to one detection scale.
const PerScale = 3

// NumScales is the number of detection scales (heads).
const NumScales = 3

// ErrInvalidTable is returned when an anchor table or its masks are malformed.
var ErrInvalidTable = errors.New("invalid anchor table")

// Scale identifies one of the three detection heads.
//
// The naming follows the feature map, not the objects: ScaleSmall is the stride-32
// output with the coarsest grid and therefore the largest anchors, while ScaleLarge
// is the stride-8 output with the finest grid.
type Scale int

const (
	// ScaleSmall is the stride-32 head (coarsest grid, largest anchors).
	ScaleSmall Scale = iota
	// ScaleMedium is the stride-16 head.
	ScaleMedium
	// ScaleLarge is the stride-8 head (finest grid, smallest anchors).
	ScaleLarge
)

// Scales lists the scales in prediction-tuple order.
var Scales = [NumScales]Scale{ScaleSmall, ScaleMedium, ScaleLarge}

// String returns the scale name.
func (s Scale) String() string {
	switch s {
	case ScaleSmall:
		return "small"
	case ScaleMedium:
		return "medium"
	case ScaleLarge:
		return "large"
	default:
		return fmt.Sprintf("scale(%d)", int(s))
	}
}

// Anchor is a reference box size in normalized image-fraction units.
type Anchor struct {
	Width  float32
	Height float32
}

// Area returns the anchor area.
func (a Anchor) Area() float32 {
	return a.Width * a.Height
}

// Table is the immutable anchor configuration of a model instance.
type Table struct {
	anchors [NumAnchors]Anchor
	masks   [NumScales][PerScale]int
}

// NewTable validates and builds an anchor table.
//
// Arguments:
//   - anchors: The 9 anchors, normalized.
//   - masks: For each scale, the indices into anchors it uses.
//
// Returns:
//   - *Table: The validated table.
//   - error: ErrInvalidTable (wrapped) when validation fails.
func NewTable(anchors [NumAnchors]Anchor, masks [NumScales][PerScale]int) (*Table, error) {
	t := &Table{anchors: anchors, masks: masks}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Default returns the standard YOLOv4 COCO anchors for a 608x608 input.
func Default() *Table {
	const size = 608.0
	pixels := [NumAnchors][2]float32{
		{12, 16}, {19, 36}, {40, 28},
		{36, 75}, {76, 55}, {72, 146},
		{142, 110}, {192, 243}, {459, 401},
	}

	var anchors [NumAnchors]Anchor
	for i, p := range pixels {
		anchors[i] = Anchor{Width: p[0] / size, Height: p[1] / size}
	}

	return &Table{
		anchors: anchors,
		masks: [NumScales][PerScale]int{
			{6, 7, 8},
			{3, 4, 5},
			{0, 1, 2},
		},
	}
}

// Anchors returns a copy of the full anchor list.
func (t *Table) Anchors() []Anchor {
	out := make([]Anchor, NumAnchors)
	copy(out, t.anchors[:])
	return out
}

// Mask returns the anchor indices assigned to a scale.
func (t *Table) Mask(s Scale) [PerScale]int {
	return t.masks[s]
}

// ForScale returns the anchors of the given scale in mask order.
//
// Arguments:
//   - s: The detection scale.
//
// Returns:
//   - []Anchor: PerScale anchors.
func (t *Table) ForScale(s Scale) []Anchor {
	out := make([]Anchor, PerScale)
	for i, idx := range t.masks[s] {
		out[i] = t.anchors[idx]
	}
	return out
}

// Validate checks sizes, mask indices and scale ordering.
//
// The mean anchor area must not grow from ScaleSmall to ScaleLarge; a table
// violating this almost always has its masks listed in the inverted order.
func (t *Table) Validate() error {
	for i, a := range t.anchors {
		if !(a.Width > 0) || !(a.Height > 0) {
			return errors.Wrapf(ErrInvalidTable, "anchor %d has non-positive size %vx%v", i, a.Width, a.Height)
		}
	}

	seen := make(map[int]bool, NumAnchors)
	for s, mask := range t.masks {
		for _, idx := range mask {
			if idx < 0 || idx >= NumAnchors {
				return errors.Wrapf(ErrInvalidTable, "mask %s references anchor %d out of range", Scale(s), idx)
			}
			if seen[idx] {
				return errors.Wrapf(ErrInvalidTable, "anchor %d assigned to more than one scale", idx)
			}
			seen[idx] = true
		}
	}

	prev := t.meanArea(ScaleSmall)
	for _, s := range Scales[1:] {
		cur := t.meanArea(s)
		if cur > prev {
			return errors.Wrapf(ErrInvalidTable,
				"scale %s has larger anchors (mean area %g) than the coarser scale before it (%g)", s, cur, prev)
		}
		prev = cur
	}

	return nil
}

func (t *Table) meanArea(s Scale) float32 {
	var sum float32
	for _, idx := range t.masks[s] {
		sum += t.anchors[idx].Area()
	}
	return sum / PerScale
}
