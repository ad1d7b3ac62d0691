package imagequeue

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/imagequeue/spatialmath"
)

// project maps a point in the local frame to a pixel of the camera. The camera's lock must be
// held.
func (cam *cameraData) project(pt r3.Vector) (r2.Point, error) {
	if !cam.hasCalibration {
		return r2.Point{}, newCalibrationUnavailableError(cam.name)
	}
	px, err := cam.model.Project(cam.localToCamera.Transform(pt))
	if err != nil {
		return r2.Point{}, errors.Wrapf(err, "camera %q", cam.name)
	}
	return px, nil
}

// Project maps a point in the local frame to continuous pixel coordinates of the named camera,
// using the transform cached with the camera's latest frame. The pixel may lie outside of the
// image. Points the camera model cannot project are reported with the model's error.
func (q *Queue) Project(name string, pt r3.Vector) (r2.Point, error) {
	cam, err := q.camera(name)
	if err != nil {
		return r2.Point{}, err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.project(pt)
}

func (q *Queue) transformAt(from, to string, utime int64) (spatialmath.Pose, error) {
	if q.transforms == nil {
		return spatialmath.NewZeroPose(), errors.Wrap(ErrTransformUnavailable, "no transform provider")
	}
	var pose spatialmath.Pose
	var err error
	if utime == 0 {
		pose, err = q.transforms.Transform(from, to)
	} else {
		pose, err = q.transforms.TransformAt(from, to, utime)
	}
	if err != nil {
		return spatialmath.NewZeroPose(), errors.Wrapf(ErrTransformUnavailable, "%s to %s at %d: %v", from, to, utime, err)
	}
	return pose, nil
}

// Transform returns the latest pose mapping points in frame from into frame to. On failure the
// identity is returned with an error wrapping ErrTransformUnavailable.
func (q *Queue) Transform(from, to string) (spatialmath.Pose, error) {
	return q.transformAt(from, to, 0)
}

// TransformAt is Transform at the sensor time utime. A utime of 0 means latest.
func (q *Queue) TransformAt(from, to string, utime int64) (spatialmath.Pose, error) {
	return q.transformAt(from, to, utime)
}

// BodyToCameraTransform returns the body to camera pose cached with the named camera's latest
// frame.
func (q *Queue) BodyToCameraTransform(name string) (spatialmath.Pose, error) {
	cam, err := q.camera(name)
	if err != nil {
		return spatialmath.NewZeroPose(), err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if !cam.hasCalibration {
		return spatialmath.NewZeroPose(), newCalibrationUnavailableError(name)
	}
	return cam.bodyToCamera, nil
}

// FrameNames lists the frames known to the transform provider, when it can enumerate them.
func (q *Queue) FrameNames() []string {
	lister, ok := q.transforms.(interface{ FrameNames() []string })
	if !ok {
		return nil
	}
	return lister.FrameNames()
}

// CameraFrustumBounds returns the rays, in the camera's optical frame, through the corners
// (0, 0), (w, 0), (w, h) and (0, h) of the named camera's image.
func (q *Queue) CameraFrustumBounds(name string) ([4]r3.Vector, error) {
	var rays [4]r3.Vector
	cam, err := q.camera(name)
	if err != nil {
		return rays, err
	}
	if !cam.hasCalibration {
		return rays, newCalibrationUnavailableError(name)
	}
	w, h := float64(cam.model.ImageWidth()), float64(cam.model.ImageHeight())
	corners := [4]r2.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	for i, corner := range corners {
		rays[i] = cam.model.Unproject(corner)
	}
	return rays, nil
}
