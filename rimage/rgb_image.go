// Package rimage holds decoded camera frames and the codecs that produce them.
package rimage

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// RGBImage is a packed, row major, 8 bit per channel RGB image with no padding between rows.
type RGBImage struct {
	width, height int
	pix           []byte
}

// NewRGBImage returns a black image of the given size.
func NewRGBImage(width, height int) *RGBImage {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &RGBImage{width: width, height: height, pix: make([]byte, width*height*3)}
}

// NewRGBImageFromBytes wraps pix, which must hold exactly width*height*3 bytes. The slice is not
// copied.
func NewRGBImageFromBytes(width, height int, pix []byte) (*RGBImage, error) {
	if width < 0 || height < 0 {
		return nil, errors.Errorf("invalid image size (%d, %d)", width, height)
	}
	if len(pix) != width*height*3 {
		return nil, errors.Errorf("expected %d bytes for a %dx%d RGB image, got %d", width*height*3, width, height, len(pix))
	}
	return &RGBImage{width: width, height: height, pix: pix}, nil
}

// NewRGBImageFromStdImage converts any image.Image, dropping alpha.
func NewRGBImageFromStdImage(img image.Image) *RGBImage {
	b := img.Bounds()
	out := NewRGBImage(b.Dx(), b.Dy())
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := out.PixOffset(x, y)
			out.pix[i], out.pix[i+1], out.pix[i+2] = uint8(r>>8), uint8(g>>8), uint8(bl>>8)
		}
	}
	return out
}

// Width returns the width in pixels.
func (i *RGBImage) Width() int {
	return i.width
}

// Height returns the height in pixels.
func (i *RGBImage) Height() int {
	return i.height
}

// Empty reports whether the image has no pixels.
func (i *RGBImage) Empty() bool {
	return i == nil || len(i.pix) == 0
}

// Pix returns the underlying bytes.
func (i *RGBImage) Pix() []byte {
	return i.pix
}

// PixOffset returns the index of the red byte of (x, y).
func (i *RGBImage) PixOffset(x, y int) int {
	return 3 * (y*i.width + x)
}

// In reports whether (x, y) lies inside the image.
func (i *RGBImage) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

// RGBAt returns the channels at (x, y). Out of bounds pixels are black.
func (i *RGBImage) RGBAt(x, y int) (uint8, uint8, uint8) {
	if !i.In(x, y) {
		return 0, 0, 0
	}
	k := i.PixOffset(x, y)
	return i.pix[k], i.pix[k+1], i.pix[k+2]
}

// SetRGB sets the channels at (x, y). Out of bounds writes are ignored.
func (i *RGBImage) SetRGB(x, y int, r, g, b uint8) {
	if !i.In(x, y) {
		return
	}
	k := i.PixOffset(x, y)
	i.pix[k], i.pix[k+1], i.pix[k+2] = r, g, b
}

// Clone returns a deep copy.
func (i *RGBImage) Clone() *RGBImage {
	if i == nil {
		return NewRGBImage(0, 0)
	}
	pix := make([]byte, len(i.pix))
	copy(pix, i.pix)
	return &RGBImage{width: i.width, height: i.height, pix: pix}
}

// ColorModel implements image.Image.
func (i *RGBImage) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image.
func (i *RGBImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// At implements image.Image.
func (i *RGBImage) At(x, y int) color.Color {
	r, g, b := i.RGBAt(x, y)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// CopyRGBRows copies a packed RGB image out of a buffer whose rows are stride bytes apart. A
// stride of 0 means rows are tightly packed.
func CopyRGBRows(data []byte, width, height, stride int) ([]byte, error) {
	rowBytes := width * 3
	if stride == 0 {
		stride = rowBytes
	}
	if stride < rowBytes {
		return nil, errors.Errorf("row stride %d is smaller than a %d pixel RGB row", stride, width)
	}
	if height > 0 && len(data) < stride*(height-1)+rowBytes {
		return nil, errors.Errorf("expected at least %d bytes of RGB data, got %d", stride*(height-1)+rowBytes, len(data))
	}
	out := make([]byte, rowBytes*height)
	for y := 0; y < height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], data[y*stride:y*stride+rowBytes])
	}
	return out, nil
}
