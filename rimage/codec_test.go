package rimage

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestJPEGDecoder(t *testing.T) {
	data, err := EncodeJPEG(solidImage(16, 8, color.NRGBA{200, 40, 90, 255}), 100)
	test.That(t, err, test.ShouldBeNil)

	var dec JPEGDecoder
	rgb, err := dec.DecodeRGB(data, 16, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rgb, test.ShouldHaveLength, 16*8*3)
	test.That(t, absDiff(rgb[0], 200), test.ShouldBeLessThan, 6)
	test.That(t, absDiff(rgb[1], 40), test.ShouldBeLessThan, 6)
	test.That(t, absDiff(rgb[2], 90), test.ShouldBeLessThan, 6)

	_, err = dec.DecodeRGB(data, 8, 8)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected 8x8")

	_, err = dec.DecodeRGB([]byte("not a jpeg"), 16, 8)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	img := NewRGBImage(3, 2)
	img.SetRGB(2, 1, 1, 2, 3)
	test.That(t, WriteImageToFile(path, img), test.ShouldBeNil)

	read, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Pix(), test.ShouldResemble, img.Pix())

	_, err = ReadImageFromFile(filepath.Join(t.TempDir(), "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}
