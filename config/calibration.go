package config

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/imagequeue/imagequeue"
	"go.viam.com/imagequeue/rimage/transform"
)

// ErrCameraNotConfigured is returned for cameras missing from the config.
var ErrCameraNotConfigured = errors.New("camera is not configured")

// Calibration serves camera models and frames from the cameras section of a config.
type Calibration struct {
	mu      sync.Mutex
	cameras map[string]*Camera
	models  map[string]*transform.PinholeCameraModel
}

// NewCalibration returns a calibration provider over cameras.
func NewCalibration(cameras map[string]*Camera) *Calibration {
	return &Calibration{
		cameras: cameras,
		models:  map[string]*transform.PinholeCameraModel{},
	}
}

// CameraModel returns the pinhole model of the named camera, built once on first use.
func (c *Calibration) CameraModel(name string) (imagequeue.CameraModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model, ok := c.models[name]; ok {
		return model, nil
	}
	cam, ok := c.cameras[name]
	if !ok || cam == nil {
		return nil, errors.Wrapf(ErrCameraNotConfigured, "%q", name)
	}
	distorter, err := cam.Distortion.Distorter()
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q", name)
	}
	model, err := transform.NewPinholeCameraModel(cam.Intrinsics, distorter)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q", name)
	}
	c.models[name] = model
	return model, nil
}

// Update replaces the camera configs. Models of cameras whose config changed are rebuilt on their
// next lookup.
func (c *Calibration) Update(cameras map[string]*Camera) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.models {
		if !reflect.DeepEqual(c.cameras[name], cameras[name]) {
			delete(c.models, name)
		}
	}
	c.cameras = cameras
}

// CoordFrame returns the frame the named camera's images are taken in.
func (c *Calibration) CoordFrame(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cam, ok := c.cameras[name]
	if !ok || cam == nil || cam.CoordFrame == "" {
		return "", errors.Wrapf(ErrCameraNotConfigured, "%q", name)
	}
	return cam.CoordFrame, nil
}

// CentralVignette reports whether colorizing through the named camera rejects pixels outside of
// the central vignette.
func (c *Calibration) CentralVignette(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cam, ok := c.cameras[name]; ok && cam != nil && cam.CentralVignette != nil {
		return *cam.CentralVignette
	}
	return lo.Contains(DefaultVignetteCameras, name)
}
