package rimage

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// JPEGDecoder decodes compressed (MJPEG) frames into packed RGB.
type JPEGDecoder struct{}

// DecodeRGB decodes data and returns exactly width*height*3 bytes. The decoded image must have
// the expected size.
func (JPEGDecoder) DecodeRGB(data []byte, width, height int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding jpeg")
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, errors.Errorf("decoded image is %dx%d, expected %dx%d", b.Dx(), b.Dy(), width, height)
	}
	return nrgbaToRGB(imaging.Clone(img)), nil
}

func nrgbaToRGB(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			copy(out[3*(y*w+x):3*(y*w+x)+3], row[4*x:4*x+3])
		}
	}
	return out
}

// EncodeJPEG encodes img as a JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.Wrap(err, "encoding jpeg")
	}
	return buf.Bytes(), nil
}

// ReadImageFromFile reads a PNG or JPEG file, applying any EXIF orientation.
func ReadImageFromFile(path string) (*RGBImage, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "reading image %q", path)
	}
	return NewRGBImageFromStdImage(img), nil
}

// WriteImageToFile writes img, picking the format from the file extension.
func WriteImageToFile(path string, img image.Image) error {
	return errors.Wrapf(imaging.Save(img, path), "writing image %q", path)
}
