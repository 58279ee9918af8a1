package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-yolov4/models/geometry"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ChannelOrder defines the ordering of image channels in the input tensor.
type ChannelOrder int

const (
	// ChannelOrderCHW is Channel-Height-Width ordering (Darknet and PyTorch exports).
	ChannelOrderCHW ChannelOrder = iota
	// ChannelOrderHWC is Height-Width-Channel ordering (TensorFlow exports).
	ChannelOrderHWC
)

// PadColor fills the letterbox border.
var PadColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Transform records how a source image was placed into the square network input.
type Transform struct {
	// Size is the side of the network input in pixels.
	Size int
	// Scale is the resize factor applied to the source.
	Scale float32
	// PadX and PadY are the left and top borders in network pixels.
	PadX, PadY int
	// SrcWidth and SrcHeight are the source dimensions.
	SrcWidth, SrcHeight int
}

// Rect maps a box normalized to the network input back to source pixels.
//
// The result is clamped to the source bounds.
//
// Arguments:
//   - box: Corner-form box in [0, 1] relative to the network input.
//
// Returns:
//   - Rect: The box in source-image pixels.
func (t Transform) Rect(box geometry.Box) Rect {
	size := float32(t.Size)
	toSrc := func(v float32, pad, limit int) int {
		p := (v*size - float32(pad)) / t.Scale
		p = math32.Max(0, math32.Min(float32(limit), p))
		return int(math32.Round(p))
	}
	return Rect{
		X1: toSrc(box.X1, t.PadX, t.SrcWidth),
		Y1: toSrc(box.Y1, t.PadY, t.SrcHeight),
		X2: toSrc(box.X2, t.PadX, t.SrcWidth),
		Y2: toSrc(box.Y2, t.PadY, t.SrcHeight),
	}
}

// Letterbox resizes img to fit a size×size square keeping its aspect ratio,
// centers it on a gray canvas and converts it to a [1, 3, size, size] (CHW) or
// [1, size, size, 3] (HWC) Float32 tensor with values in [0, 1].
//
// Arguments:
//   - img: The source image.
//   - size: The network input side.
//   - order: The channel order of the output tensor.
//
// Returns:
//   - *tensor.Dense: The network input.
//   - Transform: The placement, for mapping detections back.
//   - error: If img is empty or size is not positive.
func Letterbox(img image.Image, size int, order ChannelOrder) (*tensor.Dense, Transform, error) {
	if size <= 0 {
		return nil, Transform{}, errors.Errorf("invalid input size %d", size)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, Transform{}, errors.Errorf("invalid image dimensions: width=%d, height=%d", w, h)
	}

	scale := math32.Min(float32(size)/float32(w), float32(size)/float32(h))
	nw := max(1, int(math32.Round(float32(w)*scale)))
	nh := max(1, int(math32.Round(float32(h)*scale)))
	tr := Transform{
		Size:      size,
		Scale:     scale,
		PadX:      (size - nw) / 2,
		PadY:      (size - nh) / 2,
		SrcWidth:  w,
		SrcHeight: h,
	}

	resized := resize.Resize(uint(nw), uint(nh), img, resize.Bilinear)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(PadColor), image.Point{}, draw.Src)
	dst := image.Rect(tr.PadX, tr.PadY, tr.PadX+nw, tr.PadY+nh)
	draw.Draw(canvas, dst, resized, resized.Bounds().Min, draw.Src)

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := canvas.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(canvas.Pix[off+c]) / 255
				if order == ChannelOrderCHW {
					data[c*plane+p] = v
				} else {
					data[p*3+c] = v
				}
			}
		}
	}

	shape := []int{1, 3, size, size}
	if order == ChannelOrderHWC {
		shape = []int{1, size, size, 3}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), tr, nil
}
