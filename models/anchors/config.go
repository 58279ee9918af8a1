package anchors

import "github.com/pkg/errors"

// Config is the serialized form of an anchor table.
type Config struct {
	// Values holds 9 (width, height) pairs.
	Values [][]float32 `json:"values" yaml:"values"`
	// Masks holds 3 lists of 3 anchor indices, ordered small, medium, large.
	Masks [][]int `json:"masks" yaml:"masks"`
	// ImageSize, when positive, means Values are pixels on a square input of this size.
	ImageSize int `json:"image_size" yaml:"image_size"`
}

// DefaultConfig returns the serialized form of Default().
func DefaultConfig() Config {
	t := Default()
	cfg := Config{
		Values: make([][]float32, 0, NumAnchors),
		Masks:  make([][]int, 0, NumScales),
	}
	for _, a := range t.anchors {
		cfg.Values = append(cfg.Values, []float32{a.Width, a.Height})
	}
	for _, m := range t.masks {
		cfg.Masks = append(cfg.Masks, []int{m[0], m[1], m[2]})
	}
	return cfg
}

// Table converts the configuration into a validated Table.
//
// Returns:
//   - *Table: The anchor table.
//   - error: ErrInvalidTable (wrapped) if the configuration is malformed.
func (c Config) Table() (*Table, error) {
	if len(c.Values) != NumAnchors {
		return nil, errors.Wrapf(ErrInvalidTable, "expected %d anchors, got %d", NumAnchors, len(c.Values))
	}
	if len(c.Masks) != NumScales {
		return nil, errors.Wrapf(ErrInvalidTable, "expected %d masks, got %d", NumScales, len(c.Masks))
	}
	if c.ImageSize < 0 {
		return nil, errors.Wrapf(ErrInvalidTable, "negative image_size %d", c.ImageSize)
	}

	scale := float32(1)
	if c.ImageSize > 0 {
		scale = 1 / float32(c.ImageSize)
	}

	var anchors [NumAnchors]Anchor
	for i, v := range c.Values {
		if len(v) != 2 {
			return nil, errors.Wrapf(ErrInvalidTable, "anchor %d must be a (width, height) pair, got %d values", i, len(v))
		}
		anchors[i] = Anchor{Width: v[0] * scale, Height: v[1] * scale}
	}

	var masks [NumScales][PerScale]int
	for s, m := range c.Masks {
		if len(m) != PerScale {
			return nil, errors.Wrapf(ErrInvalidTable, "mask %s must hold %d indices, got %d", Scale(s), PerScale, len(m))
		}
		copy(masks[s][:], m)
	}

	return NewTable(anchors, masks)
}
