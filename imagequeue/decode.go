package imagequeue

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/rimage"
)

// materialize returns the decoded pixels of the current frame, decoding them on first use. The
// camera's lock must be held. A frame with no pixels yields an empty image.
func (cam *cameraData) materialize(decoder Decoder) (*rimage.RGBImage, error) {
	if cam.decoded != nil {
		return cam.decoded, nil
	}
	w, h := cam.frame.Width, cam.frame.Height
	if w <= 0 || h <= 0 {
		return rimage.NewRGBImage(0, 0), nil
	}

	var pix []byte
	var err error
	switch cam.frame.PixelFormat {
	case message.PixelFormatRGB:
		pix, err = rimage.CopyRGBRows(cam.frame.Data, w, h, cam.frame.RowStride)
	case message.PixelFormatMJPEG:
		pix, err = decoder.DecodeRGB(cam.frame.Data, w, h)
	default:
		return nil, errors.Wrapf(ErrUnsupportedPixelFormat, "camera %q: %s", cam.name, cam.frame.PixelFormat)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s frame of camera %q", cam.frame.PixelFormat, cam.name)
	}
	img, err := rimage.NewRGBImageFromBytes(w, h, pix)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s frame of camera %q", cam.frame.PixelFormat, cam.name)
	}
	cam.decoded = img
	return img, nil
}

// Image returns a copy of the named camera's latest frame, decoded, and its capture time.
func (q *Queue) Image(ctx context.Context, name string) (*rimage.RGBImage, int64, error) {
	ctx, span := trace.StartSpan(ctx, "imagequeue::Image")
	defer span.End()

	cam, err := q.camera(name)
	if err != nil {
		return rimage.NewRGBImage(0, 0), 0, err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()

	img, err := cam.materialize(q.decoder)
	if err != nil {
		q.logger.CDebugw(ctx, "failed to decode frame", "camera", name, "error", err)
		return rimage.NewRGBImage(0, 0), 0, err
	}
	if img.Empty() {
		return img, cam.frame.Utime, errors.Wrapf(ErrNoImage, "camera %q", name)
	}
	return img.Clone(), cam.frame.Utime, nil
}

// CurrentImageTime returns the capture time of the named camera's latest frame, or 0 if there is
// none.
func (q *Queue) CurrentImageTime(name string) int64 {
	cam, err := q.camera(name)
	if err != nil {
		return 0
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.frame.Utime
}
