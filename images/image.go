// Package images - Image decoding and network input preparation.
package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/webp"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image, filled in by Decode.
	Width int `json:"width" yaml:"width"`
	// The height of the image, filled in by Decode.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// ErrUnsupportedFormat is returned when the image bytes match no known format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// DetectFormat sniffs the format from the leading magic bytes.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - ImageFormat: The detected format.
//   - error: ErrUnsupportedFormat if no signature matches.
func DetectFormat(data []byte) (ImageFormat, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return FormatJPEG, nil
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG, nil
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP, nil
	}
	return "", ErrUnsupportedFormat
}

// Decode decodes the image bytes, sniffing the format when it is unset.
//
// Width and Height are set from the decoded bounds.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: If the data is empty, of an unknown format, or corrupt.
func (img *Image) Decode() (image.Image, error) {
	if len(img.Data) == 0 {
		return nil, errors.New("empty image data")
	}
	if img.Format == "" {
		format, err := DetectFormat(img.Data)
		if err != nil {
			return nil, err
		}
		img.Format = format
	}

	var (
		decoded image.Image
		err     error
	)
	r := bytes.NewReader(img.Data)
	switch img.Format {
	case FormatJPEG:
		decoded, err = jpeg.Decode(r)
	case FormatPNG:
		decoded, err = png.Decode(r)
	case FormatWebP:
		decoded, err = webp.Decode(r)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "format %q", img.Format)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", img.Format)
	}

	b := decoded.Bounds()
	img.Width, img.Height = b.Dx(), b.Dy()
	return decoded, nil
}
