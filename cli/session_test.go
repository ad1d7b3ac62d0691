package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/imagequeue/config"
	"go.viam.com/imagequeue/imagequeue"
	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/rimage"
	"go.viam.com/imagequeue/transport/inproc"
)

// testConfigJSON describes a 4x2 camera with unit focal lengths whose frame is the local frame,
// so the point (x, y, 1) lands on pixel (x, y).
const testConfigJSON = `{
	"cameras": {
		"CAM": {
			"coord_frame": "cam_frame",
			"intrinsic_parameters": {"width_px": 4, "height_px": 2, "fx": 1, "fy": 1, "ppx": 0, "ppy": 0}
		}
	},
	"frames": [
		{"name": "cam_frame", "parent": "local"},
		{"name": "body", "parent": "local", "update_channel": "POSE_BODY"}
	],
	"streams": [{"channel": "CAM"}]
}`

func readTestConfig(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.FromReader("test.json", strings.NewReader(raw), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

// testImage is a 4x2 image whose pixel (x, y) is (10x, 10y, 200).
func testImage() *rimage.RGBImage {
	img := rimage.NewRGBImage(4, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGB(x, y, uint8(10*x), uint8(10*y), 200)
		}
	}
	return img
}

func testFrame(utime int64) []byte {
	img := testImage()
	frame := &message.Image{
		Utime:       utime,
		Width:       img.Width(),
		Height:      img.Height(),
		RowStride:   img.Width() * 3,
		PixelFormat: message.PixelFormatRGB,
		Data:        img.Pix(),
	}
	return frame.Marshal()
}

func TestSessionStreams(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	bus := inproc.NewBus()
	s, err := newSession(ctx, readTestConfig(t, testConfigJSON), logger, bus)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.queue.CameraNames(), test.ShouldResemble, []string{"CAM"})
	test.That(t, s.queue.Channels(), test.ShouldResemble, []string{"CAM"})
	test.That(t, bus.Channels(), test.ShouldResemble, map[string]int{"CAM": 1, "POSE_BODY": 1})

	t.Run("frames are ingested", func(t *testing.T) {
		test.That(t, bus.Publish(ctx, "CAM", testFrame(10)), test.ShouldBeNil)
		test.That(t, s.queue.CurrentImageTime("CAM"), test.ShouldEqual, 10)
		img, utime, err := s.queue.Image(ctx, "CAM")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, utime, test.ShouldEqual, 10)
		test.That(t, img.Pix(), test.ShouldResemble, testImage().Pix())
	})

	t.Run("frame updates move the body", func(t *testing.T) {
		update := &message.RigidTransform{Utime: 20, Trans: [3]float64{1, 0, 0}, Quat: [4]float64{1, 0, 0, 0}}
		test.That(t, bus.Publish(ctx, "POSE_BODY", update.Marshal()), test.ShouldBeNil)
		pose, err := s.queue.Transform("body", "local")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Point().X, test.ShouldAlmostEqual, 1)

		test.That(t, bus.Publish(ctx, "CAM", testFrame(20)), test.ShouldBeNil)
		bodyToCamera, err := s.queue.BodyToCameraTransform("CAM")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bodyToCamera.Point().X, test.ShouldAlmostEqual, 1)
	})

	t.Run("bad frame updates are logged", func(t *testing.T) {
		test.That(t, bus.Publish(ctx, "POSE_BODY", []byte{0xff}), test.ShouldBeNil)
		test.That(t, logs.FilterMessage("failed to apply frame update").Len(), test.ShouldEqual, 1)
	})

	t.Run("reloaded config adds streams", func(t *testing.T) {
		reloaded := readTestConfig(t, strings.Replace(testConfigJSON,
			`"streams": [{"channel": "CAM"}]`,
			`"streams": [{"channel": "CAM"}, {"channel": "CAM_COPY", "camera": "CAM"}, {"channel": "OTHER"}]`, 1))
		test.That(t, s.applyConfig(ctx, reloaded), test.ShouldBeNil)
		test.That(t, s.queue.Channels(), test.ShouldResemble, []string{"CAM", "CAM_COPY", "OTHER"})
		test.That(t, s.queue.CameraNames(), test.ShouldResemble, []string{"CAM", "OTHER"})

		test.That(t, bus.Publish(ctx, "CAM_COPY", testFrame(30)), test.ShouldBeNil)
		test.That(t, s.queue.CurrentImageTime("CAM"), test.ShouldEqual, 30)
		info, err := s.queue.Resolve("OTHER")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.HasCalibration, test.ShouldBeFalse)
	})

	t.Run("frame changes need a restart", func(t *testing.T) {
		moved := readTestConfig(t, strings.Replace(testConfigJSON, `"parent": "local"}`, `"parent": "local", "translation": {"x": 1, "y": 0, "z": 0}}`, 1))
		test.That(t, s.applyConfig(ctx, moved), test.ShouldBeNil)
		test.That(t, logs.FilterMessage("frame changes are only applied on restart").Len(), test.ShouldEqual, 1)
	})
}

func TestWatchConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger, logs := logging.NewObservedTestLogger(t)
	s, err := newSession(ctx, readTestConfig(t, testConfigJSON), logger, inproc.NewBus())
	test.That(t, err, test.ShouldBeNil)

	configs := make(chan *config.Config)
	done := make(chan error, 1)
	go func() {
		done <- s.watchConfig(ctx, configs)
	}()
	configs <- readTestConfig(t, strings.Replace(testConfigJSON,
		`"streams": [{"channel": "CAM"}]`, `"streams": [{"channel": "CAM"}, {"channel": "CAM_COPY", "camera": "CAM"}]`, 1))
	close(configs)
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, s.queue.Channels(), test.ShouldResemble, []string{"CAM", "CAM_COPY"})
	test.That(t, logs.FilterMessage("applied reloaded config").Len(), test.ShouldEqual, 1)
}

func TestLoadImage(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	s, err := newSession(ctx, readTestConfig(t, testConfigJSON), logger, nil)
	test.That(t, err, test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "cam.png")
	test.That(t, rimage.WriteImageToFile(path, testImage()), test.ShouldBeNil)

	// the body has no pose yet, so only the body transform is missing
	test.That(t, s.loadImage(ctx, "CAM", path, 0), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("using identity transforms").Len(), test.ShouldEqual, 1)
	test.That(t, s.queue.Channels(), test.ShouldResemble, []string{fileChannelPrefix + "CAM"})
	px, err := s.queue.Project("CAM", r3.Vector{X: 3, Y: 1, Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldAlmostEqual, 3)
	test.That(t, px.Y, test.ShouldAlmostEqual, 1)

	img, _, err := s.queue.Image(ctx, "CAM")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Pix(), test.ShouldResemble, testImage().Pix())

	err = s.loadImage(ctx, "CAM", filepath.Join(t.TempDir(), "missing.png"), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSnapshotter(t *testing.T) {
	ctx := context.Background()
	bus := inproc.NewBus()
	s, err := newSession(ctx, readTestConfig(t, testConfigJSON), logging.NewTestLogger(t), bus)
	test.That(t, err, test.ShouldBeNil)

	dir := t.TempDir()
	snap := &snapshotter{
		session: s,
		dir:     dir,
		cloud:   pointcloud.NewFromPoints(testPoints()),
		written: map[string]int64{},
	}

	// nothing to write before the first frame
	test.That(t, snap.write(ctx), test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(dir, snapshotCloudName))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	test.That(t, bus.Publish(ctx, "CAM", testFrame(10)), test.ShouldBeNil)
	test.That(t, snap.write(ctx), test.ShouldBeNil)
	test.That(t, snap.written, test.ShouldResemble, map[string]int64{"CAM": 10})

	img, err := rimage.ReadImageFromFile(filepath.Join(dir, "CAM.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Pix(), test.ShouldResemble, testImage().Pix())

	pd, err := pointcloud.NewFromFile(filepath.Join(dir, snapshotCloudName), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pd.NumberOfPoints(), test.ShouldEqual, len(testPoints()))
	colors, ok := pd.PointData().UCharArray(pointcloud.ColorArrayName)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, colors.Tuple(1), test.ShouldResemble, []uint8{30, 10, 200})
	_, ok = pd.PointData().FloatArray(imagequeue.TextureArrayName("CAM"))
	test.That(t, ok, test.ShouldBeTrue)

	// the source cloud is left alone
	test.That(t, snap.cloud.PointData().Names(), test.ShouldBeEmpty)
}
