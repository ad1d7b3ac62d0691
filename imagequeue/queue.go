// Package imagequeue keeps the latest frame of every camera of a multi camera sensor stream and
// uses those frames to color 3D points, or to compute their texture coordinates, by projecting
// them into the cameras.
//
// Frames arrive asynchronously on transport channels. A channel either carries one image per
// message, or a container of images tagged by ImageType, in which case it may feed several
// cameras. Compressed frames are only decoded when a consumer asks for pixels, at most once per
// received frame.
package imagequeue

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/rimage"
	"go.viam.com/imagequeue/spatialmath"
	"go.viam.com/imagequeue/transport"
)

const (
	// LocalFrame is the frame points handed to the queue are expressed in.
	LocalFrame = "local"
	// DefaultBodyFrame is the robot body frame used for body to camera transforms.
	DefaultBodyFrame = "body"
)

// Subscriber delivers payloads published on a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h transport.Handler) error
}

// TransformProvider relates named coordinate frames. The returned pose maps points expressed in
// frame from into frame to.
type TransformProvider interface {
	TransformAt(from, to string, utime int64) (spatialmath.Pose, error)
	Transform(from, to string) (spatialmath.Pose, error)
}

// CameraModel projects points in a camera's optical frame to pixels and back.
type CameraModel interface {
	Project(pt r3.Vector) (r2.Point, error)
	Unproject(px r2.Point) r3.Vector
	ImageWidth() int
	ImageHeight() int
}

// CalibrationProvider looks up the model and coordinate frame of a camera by name.
type CalibrationProvider interface {
	CameraModel(name string) (CameraModel, error)
	CoordFrame(name string) (string, error)
}

// VignetteProvider is optionally implemented by a CalibrationProvider to flag cameras whose
// colorization is restricted to the center of the image.
type VignetteProvider interface {
	CentralVignette(name string) bool
}

// Decoder decompresses a frame into exactly width*height*3 bytes of packed RGB.
type Decoder interface {
	DecodeRGB(data []byte, width, height int) ([]byte, error)
}

// Options configure a Queue. Every field is optional.
type Options struct {
	Logger logging.Logger
	// Calibration provides camera models. Without it every camera is uncalibrated.
	Calibration CalibrationProvider
	// Transforms provides frame transforms. Without it transform lookups fail.
	Transforms TransformProvider
	// Subscriber is subscribed to every bound channel. Without it messages must be handed to
	// HandleImageMessage and HandleImagesMessage directly.
	Subscriber Subscriber
	// Decoder decodes MJPEG frames. Defaults to rimage.JPEGDecoder.
	Decoder Decoder
	// BodyFrame defaults to DefaultBodyFrame.
	BodyFrame string
}

// CameraInfo is a snapshot of a registered camera.
type CameraInfo struct {
	Name            string
	CoordFrame      string
	HasCalibration  bool
	CentralVignette bool
	Utime           int64
	Width           int
	Height          int
	PixelFormat     message.PixelFormat
}

// cameraData holds everything known about one camera. All fields below mu are guarded by it.
type cameraData struct {
	name            string
	coordFrame      string
	model           CameraModel
	hasCalibration  bool
	centralVignette bool

	mu            sync.Mutex
	frame         message.Image
	decoded       *rimage.RGBImage
	localToCamera spatialmath.Pose
	bodyToCamera  spatialmath.Pose
}

// Queue is a registry of cameras and the channels feeding them. It is safe for concurrent use.
type Queue struct {
	logger      logging.Logger
	calibration CalibrationProvider
	transforms  TransformProvider
	subscriber  Subscriber
	decoder     Decoder
	bodyFrame   string

	mu         sync.RWMutex
	cameras    map[string]*cameraData
	channels   map[string]map[message.ImageType]string
	subscribed map[string]struct{}
}

// New returns an empty queue.
func New(opts Options) *Queue {
	q := &Queue{
		logger:      opts.Logger,
		calibration: opts.Calibration,
		transforms:  opts.Transforms,
		subscriber:  opts.Subscriber,
		decoder:     opts.Decoder,
		bodyFrame:   opts.BodyFrame,
		cameras:     map[string]*cameraData{},
		channels:    map[string]map[message.ImageType]string{},
		subscribed:  map[string]struct{}{},
	}
	if q.logger == nil {
		q.logger = logging.NewLogger("imagequeue")
	}
	if q.decoder == nil {
		q.decoder = rimage.JPEGDecoder{}
	}
	if q.bodyFrame == "" {
		q.bodyFrame = DefaultBodyFrame
	}
	return q
}

// RegisterCamera creates the record of the named camera. A camera whose model or frame cannot be
// looked up is still registered, without calibration, and a warning is logged. Registering a
// known camera does nothing.
func (q *Queue) RegisterCamera(name string) error {
	_, err := q.ensureCamera(name)
	return err
}

func (q *Queue) ensureCamera(name string) (*cameraData, error) {
	if name == "" {
		return nil, errors.New("camera name must not be empty")
	}
	q.mu.RLock()
	cam, ok := q.cameras[name]
	q.mu.RUnlock()
	if ok {
		return cam, nil
	}

	cam = q.newCameraData(name)

	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.cameras[name]; ok {
		return existing, nil
	}
	q.cameras[name] = cam
	return cam, nil
}

func (q *Queue) newCameraData(name string) *cameraData {
	cam := &cameraData{
		name:          name,
		localToCamera: spatialmath.NewZeroPose(),
		bodyToCamera:  spatialmath.NewZeroPose(),
	}
	if q.calibration == nil {
		q.logger.Warnw("no calibration provider, camera is uncalibrated", "camera", name)
		return cam
	}
	if vp, ok := q.calibration.(VignetteProvider); ok {
		cam.centralVignette = vp.CentralVignette(name)
	}
	model, err := q.calibration.CameraModel(name)
	if err != nil {
		q.logger.Warnw("failed to get camera model, camera is uncalibrated", "camera", name, "error", err)
		return cam
	}
	frame, err := q.calibration.CoordFrame(name)
	if err != nil {
		q.logger.Warnw("failed to get camera frame, camera is uncalibrated", "camera", name, "error", err)
		return cam
	}
	cam.model = model
	cam.coordFrame = frame
	cam.hasCalibration = true
	return cam
}

// AddCameraStreamSingle binds channel to the camera of the same name, one image per message.
func (q *Queue) AddCameraStreamSingle(ctx context.Context, channel string) error {
	return q.AddCameraStream(ctx, channel, channel, message.ImageTypeSingle)
}

// AddCameraStream binds the images of type imageType published on channel to cameraName,
// registering the camera if needed. The first binding of a channel subscribes to it. A channel
// carries either single images or image containers, never both.
func (q *Queue) AddCameraStream(ctx context.Context, channel, cameraName string, imageType message.ImageType) error {
	if channel == "" {
		return errors.New("channel must not be empty")
	}
	if _, err := q.ensureCamera(cameraName); err != nil {
		return err
	}

	q.mu.Lock()
	bindings, ok := q.channels[channel]
	if !ok {
		bindings = map[message.ImageType]string{}
		q.channels[channel] = bindings
	}
	if err := checkBinding(channel, bindings, cameraName, imageType); err != nil {
		q.mu.Unlock()
		return err
	}
	bindings[imageType] = cameraName
	_, subscribed := q.subscribed[channel]
	if !subscribed && q.subscriber != nil {
		q.subscribed[channel] = struct{}{}
	}
	q.mu.Unlock()

	if subscribed || q.subscriber == nil {
		return nil
	}
	// Subscribing may wait on the transport, which may be delivering to the queue meanwhile.
	if err := q.subscriber.Subscribe(ctx, channel, q.channelHandler(imageType == message.ImageTypeSingle)); err != nil {
		q.mu.Lock()
		delete(q.subscribed, channel)
		q.mu.Unlock()
		return errors.Wrapf(err, "subscribing to %q", channel)
	}
	q.logger.Debugw("subscribed to camera channel", "channel", channel, "camera", cameraName, "image_type", imageType)
	return nil
}

func checkBinding(channel string, bindings map[message.ImageType]string, cameraName string, imageType message.ImageType) error {
	if existing, ok := bindings[imageType]; ok && existing != cameraName {
		return errors.Errorf("channel %q already binds %s images to camera %q", channel, imageType, existing)
	}
	if len(bindings) == 0 {
		return nil
	}
	_, single := bindings[message.ImageTypeSingle]
	if single != (imageType == message.ImageTypeSingle) {
		return errors.Errorf("channel %q cannot carry both single images and image containers", channel)
	}
	return nil
}

func (q *Queue) channelHandler(single bool) transport.Handler {
	handle := q.HandleImagesMessage
	if single {
		handle = q.HandleImageMessage
	}
	return func(payload []byte, channel string) {
		err := handle(payload, channel)
		switch {
		case err == nil:
		case errors.Is(err, ErrTransformUnavailable) && !errors.Is(err, ErrMessageCameraMismatch):
			q.logger.Debugw("ingested frame with stale transforms", "channel", channel, "error", err)
		default:
			q.logger.Warnw("failed to ingest frame", "channel", channel, "error", err)
		}
	}
}

func (q *Queue) camera(name string) (*cameraData, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	cam, ok := q.cameras[name]
	if !ok {
		return nil, newCameraLookupMissError(name)
	}
	return cam, nil
}

// Resolve returns a snapshot of the named camera.
func (q *Queue) Resolve(name string) (*CameraInfo, error) {
	cam, err := q.camera(name)
	if err != nil {
		return nil, err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return &CameraInfo{
		Name:            cam.name,
		CoordFrame:      cam.coordFrame,
		HasCalibration:  cam.hasCalibration,
		CentralVignette: cam.centralVignette,
		Utime:           cam.frame.Utime,
		Width:           cam.frame.Width,
		Height:          cam.frame.Height,
		PixelFormat:     cam.frame.PixelFormat,
	}, nil
}

// CameraNames returns the names of all registered cameras, sorted.
func (q *Queue) CameraNames() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.cameras))
	for name := range q.cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Channels returns the bound channels, sorted.
func (q *Queue) Channels() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	channels := make([]string, 0, len(q.channels))
	for channel := range q.channels {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}
