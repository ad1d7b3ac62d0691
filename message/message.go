// Package message implements the wire messages carried on camera and frame channels. Messages
// use the protobuf wire encoding so they can be produced by any protobuf implementation with the
// field numbers documented on each type.
package message

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// PixelFormat is the fourcc code describing the layout of Image.Data.
type PixelFormat int32

// Known pixel formats.
const (
	PixelFormatGray  PixelFormat = 1497715271
	PixelFormatRGB   PixelFormat = 859981650
	PixelFormatBGR   PixelFormat = 861030210
	PixelFormatMJPEG PixelFormat = 1196444237
)

func (pf PixelFormat) String() string {
	switch pf {
	case PixelFormatGray:
		return "GRAY"
	case PixelFormatRGB:
		return "RGB"
	case PixelFormatBGR:
		return "BGR"
	case PixelFormatMJPEG:
		return "MJPEG"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int32(pf))
	}
}

// ImageType tags a sub image of a multi image message.
type ImageType int32

// Image types of a stereo head. ImageTypeSingle marks channels that carry one Image per message
// rather than an Images container.
const (
	ImageTypeSingle    ImageType = -1
	ImageTypeLeft      ImageType = 0
	ImageTypeRight     ImageType = 1
	ImageTypeDisparity ImageType = 2
	ImageTypeDepthMM   ImageType = 4
)

var imageTypeNames = map[ImageType]string{
	ImageTypeSingle:    "single",
	ImageTypeLeft:      "left",
	ImageTypeRight:     "right",
	ImageTypeDisparity: "disparity",
	ImageTypeDepthMM:   "depth_mm",
}

func (it ImageType) String() string {
	if name, ok := imageTypeNames[it]; ok {
		return name
	}
	return fmt.Sprintf("ImageType(%d)", int32(it))
}

// ParseImageType parses the lower case name of an image type. The empty string is
// ImageTypeSingle.
func ParseImageType(s string) (ImageType, error) {
	if s == "" {
		return ImageTypeSingle, nil
	}
	for it, name := range imageTypeNames {
		if name == s {
			return it, nil
		}
	}
	return ImageTypeSingle, errors.Errorf("unknown image type %q", s)
}

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// Image is a single camera frame.
//
//	1 utime        int64
//	2 width        int32
//	3 height       int32
//	4 row_stride   int32
//	5 pixel_format int32
//	6 data         bytes
type Image struct {
	// Utime is the capture time on the sensor clock in microseconds.
	Utime       int64
	Width       int
	Height      int
	RowStride   int
	PixelFormat PixelFormat
	Data        []byte
}

// Images is a container of images captured together, each tagged with an ImageType.
//
//	1 utime       int64
//	2 image_types repeated int32
//	3 images      repeated Image
type Images struct {
	Utime      int64
	ImageTypes []ImageType
	Images     []Image
}

// RigidTransform updates the pose of a frame relative to its parent.
//
//	1 utime int64
//	2 trans packed double[3]
//	3 quat  packed double[4], w x y z
type RigidTransform struct {
	Utime int64
	Trans [3]float64
	Quat  [4]float64
}

// Marshal encodes the image.
func (img *Image) Marshal() []byte {
	return img.appendTo(nil)
}

func (img *Image) appendTo(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(img.Utime))
	b = appendVarintField(b, 2, uint64(int64(img.Width)))
	b = appendVarintField(b, 3, uint64(int64(img.Height)))
	b = appendVarintField(b, 4, uint64(int64(img.RowStride)))
	b = appendVarintField(b, 5, uint64(int64(img.PixelFormat)))
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	return protowire.AppendBytes(b, img.Data)
}

// Unmarshal decodes an image, replacing every field of img.
func (img *Image) Unmarshal(b []byte) error {
	*img = Image{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			img.Data = append([]byte(nil), v...)
			return n, nil
		case num >= 1 && num <= 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			switch num {
			case 1:
				img.Utime = int64(v)
			case 2:
				img.Width = int(int32(v))
			case 3:
				img.Height = int(int32(v))
			case 4:
				img.RowStride = int(int32(v))
			case 5:
				img.PixelFormat = PixelFormat(int32(v))
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
}

// Marshal encodes the container.
func (imgs *Images) Marshal() []byte {
	b := appendVarintField(nil, 1, uint64(imgs.Utime))
	if len(imgs.ImageTypes) > 0 {
		var packed []byte
		for _, it := range imgs.ImageTypes {
			packed = protowire.AppendVarint(packed, uint64(int64(it)))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	for i := range imgs.Images {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, imgs.Images[i].Marshal())
	}
	return b
}

// Unmarshal decodes a container, replacing every field of imgs. Image types may be packed or not.
func (imgs *Images) Unmarshal(b []byte) error {
	*imgs = Images{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			imgs.Utime = int64(v)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			imgs.ImageTypes = append(imgs.ImageTypes, ImageType(int32(v)))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return 0, errors.Wrapf(ErrMalformed, "image_types: %v", protowire.ParseError(m))
				}
				imgs.ImageTypes = append(imgs.ImageTypes, ImageType(int32(v)))
				packed = packed[m:]
			}
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var img Image
			if err := img.Unmarshal(v); err != nil {
				return 0, errors.Wrapf(err, "image %d", len(imgs.Images))
			}
			imgs.Images = append(imgs.Images, img)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return err
	}
	if len(imgs.ImageTypes) != len(imgs.Images) {
		return errors.Wrapf(ErrMalformed, "%d image types for %d images", len(imgs.ImageTypes), len(imgs.Images))
	}
	return nil
}

// Find returns the first sub image tagged with imageType.
func (imgs *Images) Find(imageType ImageType) (*Image, bool) {
	for i, it := range imgs.ImageTypes {
		if it == imageType {
			return &imgs.Images[i], true
		}
	}
	return nil, false
}

// Marshal encodes the transform.
func (rt *RigidTransform) Marshal() []byte {
	b := appendVarintField(nil, 1, uint64(rt.Utime))
	b = appendPackedDoubles(b, 2, rt.Trans[:])
	return appendPackedDoubles(b, 3, rt.Quat[:])
}

// Unmarshal decodes a transform, replacing every field of rt.
func (rt *RigidTransform) Unmarshal(b []byte) error {
	*rt = RigidTransform{}
	return walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			rt.Utime = int64(v)
			return n, nil
		case (num == 2 || num == 3) && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			dst := rt.Trans[:]
			if num == 3 {
				dst = rt.Quat[:]
			}
			if len(packed) != 8*len(dst) {
				return 0, errors.Wrapf(ErrMalformed, "field %d has %d bytes, expected %d", num, len(packed), 8*len(dst))
			}
			for i := range dst {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return m, nil
				}
				dst[i] = math.Float64frombits(v)
				packed = packed[m:]
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// walkFields calls fn for every field of b. fn returns the number of bytes it consumed, or a
// negative protowire error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
