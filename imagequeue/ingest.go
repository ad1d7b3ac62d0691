package imagequeue

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/imagequeue/message"
)

type binding struct {
	imageType message.ImageType
	camera    *cameraData
}

// bindings returns the cameras bound to channel in ascending image type order.
func (q *Queue) bindings(channel string) ([]binding, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	bound, ok := q.channels[channel]
	if !ok || len(bound) == 0 {
		return nil, newChannelLookupMissError(channel)
	}
	out := make([]binding, 0, len(bound))
	for imageType, name := range bound {
		cam, ok := q.cameras[name]
		if !ok {
			return nil, newCameraLookupMissError(name)
		}
		out = append(out, binding{imageType: imageType, camera: cam})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].imageType < out[j].imageType })
	return out, nil
}

// HandleImageMessage ingests a single image published on channel. The frame replaces the bound
// camera's previous frame even if refreshing its transforms fails, in which case an error
// wrapping ErrTransformUnavailable is returned.
func (q *Queue) HandleImageMessage(payload []byte, channel string) error {
	var img message.Image
	if err := img.Unmarshal(payload); err != nil {
		return errors.Wrapf(err, "decoding image on %q", channel)
	}
	bound, err := q.bindings(channel)
	if err != nil {
		return err
	}
	if len(bound) != 1 || bound[0].imageType != message.ImageTypeSingle {
		return errors.Wrap(newChannelLookupMissError(channel), "no single image binding")
	}
	return q.ingest(bound[0].camera, &img)
}

// HandleImagesMessage ingests a container of images published on channel, updating every camera
// bound to one of its image types. Cameras whose image type is missing from the message are left
// untouched and reported with an error wrapping ErrMessageCameraMismatch; the other cameras are
// still updated.
func (q *Queue) HandleImagesMessage(payload []byte, channel string) error {
	var imgs message.Images
	if err := imgs.Unmarshal(payload); err != nil {
		return errors.Wrapf(err, "decoding images on %q", channel)
	}
	bound, err := q.bindings(channel)
	if err != nil {
		return err
	}

	var errs error
	var missing []message.ImageType
	for _, b := range bound {
		img, ok := imgs.Find(b.imageType)
		if !ok {
			missing = append(missing, b.imageType)
			continue
		}
		// Sub images may leave utime unset and rely on the container's.
		if img.Utime == 0 {
			img.Utime = imgs.Utime
		}
		errs = multierr.Append(errs, q.ingest(b.camera, img))
	}
	if len(missing) > 0 {
		errs = multierr.Append(errs, errors.Wrapf(ErrMessageCameraMismatch, "channel %q has no %v images", channel, missing))
	}
	return errs
}

// ingest replaces the camera's frame, drops its decoded pixels and refreshes its transforms at
// the frame's capture time. Transforms that cannot be looked up keep their previous value.
func (q *Queue) ingest(cam *cameraData, img *message.Image) error {
	cam.mu.Lock()
	defer cam.mu.Unlock()

	cam.frame = *img
	cam.decoded = nil
	if !cam.hasCalibration {
		return nil
	}

	var errs error
	if pose, err := q.transformAt(LocalFrame, cam.coordFrame, img.Utime); err == nil {
		cam.localToCamera = pose
	} else {
		errs = multierr.Append(errs, err)
	}
	if pose, err := q.transformAt(q.bodyFrame, cam.coordFrame, img.Utime); err == nil {
		cam.bodyToCamera = pose
	} else {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errors.Wrapf(errs, "camera %q", cam.name)
	}
	return nil
}
