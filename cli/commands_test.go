package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/imagequeue/imagequeue"
	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/rimage"
)

// testPoints land on pixels (0, 0), (3, 1) and (1, 0) of the test camera, then one to its right
// and one behind it.
func testPoints() []r3.Vector {
	return []r3.Vector{
		{X: 0, Y: 0, Z: 1},
		{X: 3, Y: 1, Z: 1},
		{X: 1.5, Y: 0.5, Z: 1},
		{X: 5, Y: 0, Z: 1},
		{X: 0, Y: 0, Z: -1},
	}
}

type testFiles struct {
	dir    string
	config string
	image  string
	input  string
}

func writeTestFiles(t *testing.T) testFiles {
	t.Helper()
	dir := t.TempDir()
	files := testFiles{
		dir:    dir,
		config: filepath.Join(dir, "imagequeue.json"),
		image:  filepath.Join(dir, "cam.png"),
		input:  filepath.Join(dir, "in.pcd"),
	}
	test.That(t, os.WriteFile(files.config, []byte(testConfigJSON), 0o600), test.ShouldBeNil)
	test.That(t, rimage.WriteImageToFile(files.image, testImage()), test.ShouldBeNil)
	test.That(t, pointcloud.WriteToFile(pointcloud.NewFromPoints(testPoints()), files.input), test.ShouldBeNil)
	return files
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"imagequeue"}, args...))
	return out.String(), errOut.String(), err
}

func TestColorizeAction(t *testing.T) {
	files := writeTestFiles(t)
	output := filepath.Join(files.dir, "out.pcd")

	out, _, err := runApp(t, "--config", files.config, "colorize",
		"--camera", "CAM", "--image", files.image, "--input", files.input, "--output", output)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "colored 3 of 5 points with CAM\n")

	pd, err := pointcloud.NewFromFile(output, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	colors, ok := pd.PointData().UCharArray(pointcloud.ColorArrayName)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, colors.Tuple(0), test.ShouldResemble, []uint8{0, 0, 200})
	test.That(t, colors.Tuple(1), test.ShouldResemble, []uint8{30, 10, 200})
	test.That(t, colors.Tuple(2), test.ShouldResemble, []uint8{10, 0, 200})
	test.That(t, colors.Tuple(3), test.ShouldResemble, []uint8{255, 255, 255})
	test.That(t, colors.Tuple(4), test.ShouldResemble, []uint8{255, 255, 255})

	t.Run("bad arguments", func(t *testing.T) {
		_, _, err := runApp(t, "--config", files.config, "colorize",
			"--camera", "NOPE", "--image", files.image, "--input", files.input, "--output", output)
		test.That(t, err, test.ShouldNotBeNil)
		_, _, err = runApp(t, "--config", files.config, "colorize",
			"--camera", "CAM", "--image", files.image, "--input", files.input, "--output", filepath.Join(files.dir, "out.ply"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "out.ply")
	})

	t.Run("debug calls", func(t *testing.T) {
		args := []string{"colorize", "--camera", "OTHER", "--image", files.image, "--input", files.input, "--output", output}
		_, errOut, err := runApp(t, append([]string{"--config", files.config}, args...)...)
		test.That(t, errors.Is(err, imagequeue.ErrCalibrationUnavailable), test.ShouldBeTrue)
		test.That(t, errOut, test.ShouldNotContainSubstring, "not colorizing through uncalibrated camera")

		_, errOut, err = runApp(t, append([]string{"--config", files.config, "--debug-calls"}, args...)...)
		test.That(t, errors.Is(err, imagequeue.ErrCalibrationUnavailable), test.ShouldBeTrue)
		test.That(t, errOut, test.ShouldContainSubstring, "not colorizing through uncalibrated camera")
	})

	t.Run("config is required", func(t *testing.T) {
		_, _, err := runApp(t, "colorize",
			"--camera", "CAM", "--image", files.image, "--input", files.input, "--output", output)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "--config")
	})
}

func TestTextureAction(t *testing.T) {
	files := writeTestFiles(t)
	output := filepath.Join(files.dir, "out.pcd")

	out, _, err := runApp(t, "--config", files.config, "texture",
		"--camera", "CAM", "--image", files.image, "--input", files.input, "--output", output)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "mapped 4 of 5 points into CAM\n")

	pd, err := pointcloud.NewFromFile(output, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	tcoords, ok := pd.PointData().FloatArray(imagequeue.TextureArrayName("CAM"))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tcoords.Tuple(0), test.ShouldResemble, []float32{0, 0})
	test.That(t, tcoords.Tuple(1), test.ShouldResemble, []float32{1, 1})
	test.That(t, tcoords.Tuple(2), test.ShouldResemble, []float32{0.5, 0.5})
	test.That(t, tcoords.Tuple(4), test.ShouldResemble, []float32{-1, -1})
	_, ok = pd.PointData().UCharArray(pointcloud.ColorArrayName)
	test.That(t, ok, test.ShouldBeFalse)

	_, _, err = runApp(t, "--config", files.config, "texture",
		"--camera", "CAM", "--image", files.image, "--input", files.input, "--output", filepath.Join(files.dir, "out.las"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ".pcd")
}

func TestFrustumAction(t *testing.T) {
	files := writeTestFiles(t)
	out, _, err := runApp(t, "--config", files.config, "frustum", "--camera", "CAM")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Split(strings.TrimSpace(out), "\n"), test.ShouldResemble, []string{
		"top left     0.000000 0.000000 1.000000",
		"top right    4.000000 0.000000 1.000000",
		"bottom right 4.000000 2.000000 1.000000",
		"bottom left  0.000000 2.000000 1.000000",
	})
}

func TestFramesAction(t *testing.T) {
	files := writeTestFiles(t)
	out, _, err := runApp(t, "--config", files.config, "frames")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "body\ncam_frame\nlocal\n")
}

func TestPublishNeedsMQTT(t *testing.T) {
	files := writeTestFiles(t)
	_, _, err := runApp(t, "--config", files.config, "publish", "--channel", "CAM", "--image", files.image)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "transport.mqtt")
}

func TestSchemaAction(t *testing.T) {
	out, _, err := runApp(t, "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, `"cameras"`)
	test.That(t, out, test.ShouldContainSubstring, `"update_channel"`)
}

func TestImageFileFrame(t *testing.T) {
	files := writeTestFiles(t)

	frame, err := imageFileFrame(files.image, 7, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Utime, test.ShouldEqual, 7)
	test.That(t, frame.PixelFormat, test.ShouldEqual, message.PixelFormatRGB)
	test.That(t, frame.RowStride, test.ShouldEqual, 12)
	test.That(t, frame.Data, test.ShouldResemble, testImage().Pix())

	frame, err = imageFileFrame(files.image, 7, 90)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.PixelFormat, test.ShouldEqual, message.PixelFormatMJPEG)
	test.That(t, frame.Width, test.ShouldEqual, 4)
	test.That(t, frame.Height, test.ShouldEqual, 2)
	decoded, err := rimage.JPEGDecoder{}.DecodeRGB(frame.Data, frame.Width, frame.Height)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded, test.ShouldHaveLength, 4*2*3)

	_, err = imageFileFrame(files.image, 7, 101)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = imageFileFrame(filepath.Join(files.dir, "missing.png"), 7, 0)
	test.That(t, err, test.ShouldNotBeNil)
}
