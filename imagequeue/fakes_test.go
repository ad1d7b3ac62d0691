package imagequeue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest/observer"

	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/rimage"
	"go.viam.com/imagequeue/spatialmath"
	"go.viam.com/imagequeue/transport"
)

var errBehind = errors.New("behind camera")

// fakeModel projects (x, y, z) to the pixel (x/z, y/z).
type fakeModel struct {
	width, height int
}

func (m *fakeModel) Project(pt r3.Vector) (r2.Point, error) {
	if pt.Z <= 0 {
		return r2.Point{}, errBehind
	}
	return r2.Point{X: pt.X / pt.Z, Y: pt.Y / pt.Z}, nil
}

func (m *fakeModel) Unproject(px r2.Point) r3.Vector {
	return r3.Vector{X: px.X, Y: px.Y, Z: 1}
}

func (m *fakeModel) ImageWidth() int  { return m.width }
func (m *fakeModel) ImageHeight() int { return m.height }

type fakeCalibration struct {
	models   map[string]CameraModel
	frames   map[string]string
	vignette map[string]bool
}

func (c *fakeCalibration) CameraModel(name string) (CameraModel, error) {
	model, ok := c.models[name]
	if !ok {
		return nil, errors.New("no model")
	}
	return model, nil
}

func (c *fakeCalibration) CoordFrame(name string) (string, error) {
	frame, ok := c.frames[name]
	if !ok {
		return "", errors.New("no frame")
	}
	return frame, nil
}

func (c *fakeCalibration) CentralVignette(name string) bool {
	return c.vignette[name]
}

// newFakeCalibration knows the 640x480 cameras LEFT, RIGHT and CAMERACHEST_LEFT, which is a
// central vignette camera, and NOFRAME, which has a model but no frame.
func newFakeCalibration() *fakeCalibration {
	model := &fakeModel{width: 640, height: 480}
	return &fakeCalibration{
		models: map[string]CameraModel{
			"LEFT":             model,
			"RIGHT":            model,
			"CAMERACHEST_LEFT": model,
			"NOFRAME":          model,
		},
		frames: map[string]string{
			"LEFT":             "left_frame",
			"RIGHT":            "right_frame",
			"CAMERACHEST_LEFT": "chest_frame",
		},
		vignette: map[string]bool{"CAMERACHEST_LEFT": true},
	}
}

type fakeTransforms struct {
	mu        sync.Mutex
	poses     map[[2]string]spatialmath.Pose
	lastUtime int64
	calls     int
}

func newFakeTransforms() *fakeTransforms {
	tf := &fakeTransforms{poses: map[[2]string]spatialmath.Pose{}}
	for _, frame := range []string{"left_frame", "right_frame", "chest_frame"} {
		tf.set(LocalFrame, frame, spatialmath.NewZeroPose())
		tf.set(DefaultBodyFrame, frame, spatialmath.NewZeroPose())
	}
	return tf
}

func (tf *fakeTransforms) set(from, to string, pose spatialmath.Pose) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.poses[[2]string{from, to}] = pose
}

func (tf *fakeTransforms) clear() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.poses = map[[2]string]spatialmath.Pose{}
}

func (tf *fakeTransforms) TransformAt(from, to string, utime int64) (spatialmath.Pose, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.calls++
	tf.lastUtime = utime
	pose, ok := tf.poses[[2]string{from, to}]
	if !ok {
		return spatialmath.NewZeroPose(), errors.New("frames not connected")
	}
	return pose, nil
}

func (tf *fakeTransforms) Transform(from, to string) (spatialmath.Pose, error) {
	return tf.TransformAt(from, to, 0)
}

// countingDecoder "decodes" a frame by repeating its first byte.
type countingDecoder struct {
	calls atomic.Int64
}

func (d *countingDecoder) DecodeRGB(data []byte, width, height int) ([]byte, error) {
	d.calls.Inc()
	if len(data) == 0 {
		return nil, errors.New("no data")
	}
	out := make([]byte, width*height*3)
	for i := range out {
		out[i] = data[0]
	}
	return out, nil
}

type flakySubscriber struct {
	failures int
	handlers map[string]transport.Handler
}

func (s *flakySubscriber) Subscribe(ctx context.Context, channel string, h transport.Handler) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	if s.handlers == nil {
		s.handlers = map[string]transport.Handler{}
	}
	s.handlers[channel] = h
	return nil
}

type testQueue struct {
	*Queue
	transforms *fakeTransforms
	decoder    *countingDecoder
	logs       *observer.ObservedLogs
}

func newTestQueue(t *testing.T) *testQueue {
	t.Helper()
	logger, logs := logging.NewObservedTestLogger(t)
	tq := &testQueue{
		transforms: newFakeTransforms(),
		decoder:    &countingDecoder{},
		logs:       logs,
	}
	tq.Queue = New(Options{
		Logger:      logger,
		Calibration: newFakeCalibration(),
		Transforms:  tq.transforms,
		Decoder:     tq.decoder,
	})
	return tq
}

func mjpegFrame(utime int64, width, height int, marker byte) []byte {
	img := message.Image{
		Utime:       utime,
		Width:       width,
		Height:      height,
		PixelFormat: message.PixelFormatMJPEG,
		Data:        []byte{marker},
	}
	return img.Marshal()
}

func rgbImage(utime int64, img *rimage.RGBImage) message.Image {
	return message.Image{
		Utime:       utime,
		Width:       img.Width(),
		Height:      img.Height(),
		RowStride:   img.Width() * 3,
		PixelFormat: message.PixelFormatRGB,
		Data:        img.Pix(),
	}
}

func solidImage(width, height int, r, g, b uint8) *rimage.RGBImage {
	img := rimage.NewRGBImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGB(x, y, r, g, b)
		}
	}
	return img
}

func rgbFrame(utime int64, img *rimage.RGBImage) []byte {
	msg := rgbImage(utime, img)
	return msg.Marshal()
}
