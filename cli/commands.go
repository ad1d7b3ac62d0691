package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/config"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/rimage"
	"go.viam.com/imagequeue/transport/mqtt"
)

func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}

// offlineSession loads the config, the image file of the camera and the input point cloud named
// by the flags of c.
func offlineSession(c *cli.Context) (*session, *pointcloud.PolyData, func(), error) {
	cfg, logger, closeLogs, err := loadConfigAndLogger(c)
	if err != nil {
		return nil, nil, nil, err
	}
	s, err := newSession(c.Context, cfg, logger, nil)
	if err != nil {
		closeLogs()
		return nil, nil, nil, err
	}
	if err := s.loadImage(c.Context, c.String(flagCamera), c.Path(flagImage), c.Int64(flagUtime)); err != nil {
		closeLogs()
		return nil, nil, nil, err
	}
	pd, err := pointcloud.NewFromFile(c.Path(flagInput), logger)
	if err != nil {
		closeLogs()
		return nil, nil, nil, err
	}
	return s, pd, closeLogs, nil
}

// ColorizeAction colors a point cloud file with an image file.
func ColorizeAction(c *cli.Context) error {
	s, pd, closeLogs, err := offlineSession(c)
	if err != nil {
		return err
	}
	defer closeLogs()

	camera := c.String(flagCamera)
	n, err := s.queue.ColorizePoints(c.Context, camera, pd)
	if err != nil {
		return err
	}
	if err := pointcloud.WriteToFile(pd, c.Path(flagOutput)); err != nil {
		return err
	}
	printf(c.App.Writer, "colored %d of %d points with %s", n, pd.NumberOfPoints(), camera)
	return nil
}

// TextureAction stores the texture coordinates of a point cloud file in an image file. Only PCD
// files can hold texture coordinates.
func TextureAction(c *cli.Context) error {
	if ext := strings.ToLower(filepath.Ext(c.Path(flagOutput))); ext != ".pcd" {
		return errors.Errorf("texture coordinates can only be written to .pcd files, not %q", ext)
	}
	s, pd, closeLogs, err := offlineSession(c)
	if err != nil {
		return err
	}
	defer closeLogs()

	camera := c.String(flagCamera)
	n, err := s.queue.ComputeTextureCoords(c.Context, camera, pd)
	if err != nil {
		return err
	}
	if err := pointcloud.WriteToFile(pd, c.Path(flagOutput)); err != nil {
		return err
	}
	printf(c.App.Writer, "mapped %d of %d points into %s", n, pd.NumberOfPoints(), camera)
	return nil
}

var frustumCorners = [4]string{"top left", "top right", "bottom right", "bottom left"}

// FrustumAction prints the rays through the corners of a camera's image.
func FrustumAction(c *cli.Context) error {
	cfg, logger, closeLogs, err := loadConfigAndLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	s, err := newSession(c.Context, cfg, logger, nil)
	if err != nil {
		return err
	}
	rays, err := s.queue.CameraFrustumBounds(c.String(flagCamera))
	if err != nil {
		return err
	}
	for i, ray := range rays {
		printf(c.App.Writer, "%-12s %.6f %.6f %.6f", frustumCorners[i], ray.X, ray.Y, ray.Z)
	}
	return nil
}

// FramesAction prints the configured coordinate frames.
func FramesAction(c *cli.Context) error {
	cfg, logger, closeLogs, err := loadConfigAndLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	s, err := newSession(c.Context, cfg, logger, nil)
	if err != nil {
		return err
	}
	for _, name := range s.queue.FrameNames() {
		printf(c.App.Writer, "%s", name)
	}
	return nil
}

// PublishAction publishes an image file on a channel of the configured MQTT broker.
func PublishAction(c *cli.Context) error {
	cfg, logger, closeLogs, err := loadConfigAndLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	if cfg.Transport.MQTT == nil {
		return errors.New("publishing needs transport.mqtt in the config")
	}

	utime := c.Int64(flagUtime)
	if utime == 0 {
		utime = time.Now().UnixMicro()
	}
	frame, err := imageFileFrame(c.Path(flagImage), utime, c.Int(flagJPEGQuality))
	if err != nil {
		return err
	}
	client, err := mqtt.Connect(c.Context, *cfg.Transport.MQTT, logger.Sublogger("mqtt"))
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(client.Close)

	channel := c.String(flagChannel)
	if err := client.Publish(c.Context, channel, frame.Marshal()); err != nil {
		return err
	}
	printf(c.App.Writer, "published %dx%d %s frame on %s", frame.Width, frame.Height, frame.PixelFormat, channel)
	return nil
}

// imageFileFrame reads an image file into a frame, JPEG compressed when quality is positive.
func imageFileFrame(path string, utime int64, quality int) (*message.Image, error) {
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, err
	}
	frame := &message.Image{
		Utime:       utime,
		Width:       img.Width(),
		Height:      img.Height(),
		RowStride:   img.Width() * 3,
		PixelFormat: message.PixelFormatRGB,
		Data:        img.Pix(),
	}
	if quality > 0 {
		if quality > 100 {
			return nil, errors.Errorf("jpeg quality must be at most 100, got %d", quality)
		}
		data, err := rimage.EncodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		frame.RowStride = 0
		frame.PixelFormat = message.PixelFormatMJPEG
		frame.Data = data
	}
	return frame, nil
}

// SchemaAction prints the JSON schema of the config file.
func SchemaAction(c *cli.Context) error {
	schema := jsonschema.Reflect(&config.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)
	return nil
}
