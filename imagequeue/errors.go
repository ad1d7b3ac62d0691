package imagequeue

import (
	"github.com/pkg/errors"
)

var (
	// ErrCalibrationUnavailable is returned for cameras that were registered without a usable
	// camera model or coordinate frame. It is permanent until the camera is reconfigured.
	ErrCalibrationUnavailable = errors.New("camera calibration unavailable")
	// ErrTransformUnavailable is returned when the transform provider cannot relate two frames at
	// the requested time. It is usually transient.
	ErrTransformUnavailable = errors.New("transform unavailable")
	// ErrUnsupportedPixelFormat is returned when a frame carries pixels that cannot be decoded.
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	// ErrMessageCameraMismatch is returned when a multi image message lacks an image type bound to
	// one of its channel's cameras.
	ErrMessageCameraMismatch = errors.New("message is missing an image for a bound camera")
	// ErrLookupMiss is returned for cameras or channels that are not registered.
	ErrLookupMiss = errors.New("not registered")
	// ErrNoImage is returned when a camera has not received a frame yet.
	ErrNoImage = errors.New("no image received")
)

func newCameraLookupMissError(name string) error {
	return errors.Wrapf(ErrLookupMiss, "camera %q", name)
}

func newChannelLookupMissError(channel string) error {
	return errors.Wrapf(ErrLookupMiss, "channel %q", channel)
}

func newCalibrationUnavailableError(name string) error {
	return errors.Wrapf(ErrCalibrationUnavailable, "camera %q", name)
}
