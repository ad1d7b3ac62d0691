// Package config defines the structures to configure an image queue: the cameras and their
// calibration, the frame tree, the image streams to subscribe to and the transport carrying them.
package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/referenceframe"
	"go.viam.com/imagequeue/rimage/transform"
	"go.viam.com/imagequeue/spatialmath"
)

const (
	// DefaultBodyFrame is the robot body frame used when none is configured.
	DefaultBodyFrame = "body"
	// DefaultMQTTPort is the broker port used when none is configured.
	DefaultMQTTPort = 1883
)

// DefaultVignetteCameras are cameras whose lenses are known to have a dark, unusable border. They
// get a central vignette test unless their config says otherwise.
var DefaultVignetteCameras = []string{"CAMERACHEST_LEFT", "CAMERACHEST_RIGHT"}

// A Config describes the configuration of an image queue.
type Config struct {
	Cameras   map[string]*Camera `json:"cameras,omitempty"`
	Frames    []Frame            `json:"frames,omitempty"`
	Streams   []Stream           `json:"streams,omitempty"`
	Transport Transport          `json:"transport"`
	BodyFrame string             `json:"body_frame,omitempty"`
	LogLevel  string             `json:"log_level,omitempty"`
	LogFile   *LogFile           `json:"log_file,omitempty"`

	ConfigFilePath string `json:"-"`
}

// Ensure ensures all parts of the config are valid and fills in defaults.
func (c *Config) Ensure() error {
	for _, name := range lo.Keys(c.Cameras) {
		if err := c.Cameras[name].Validate(fmt.Sprintf("%s.%s", "cameras", name)); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for idx := 0; idx < len(c.Frames); idx++ {
		path := fmt.Sprintf("%s.%d", "frames", idx)
		if err := c.Frames[idx].Validate(path); err != nil {
			return err
		}
		if seen[c.Frames[idx].Name] {
			return utils.NewConfigValidationError(path, errors.Errorf("frame name %q is not unique", c.Frames[idx].Name))
		}
		seen[c.Frames[idx].Name] = true
	}

	for idx := 0; idx < len(c.Streams); idx++ {
		if err := c.Streams[idx].Validate(fmt.Sprintf("%s.%d", "streams", idx)); err != nil {
			return err
		}
	}

	if err := c.Transport.Validate("transport"); err != nil {
		return err
	}

	if c.LogFile != nil {
		if err := c.LogFile.Validate("log_file"); err != nil {
			return err
		}
	}

	if c.BodyFrame == "" {
		c.BodyFrame = DefaultBodyFrame
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return utils.NewConfigValidationError("log_level", err)
		}
	}
	return nil
}

// CameraNames returns the configured camera names, sorted.
func (c *Config) CameraNames() []string {
	names := lo.Keys(c.Cameras)
	sort.Strings(names)
	return names
}

// Camera describes the calibration of one camera.
type Camera struct {
	CoordFrame string                             `json:"coord_frame"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsic_parameters"`
	Distortion *Distortion                        `json:"distortion_parameters,omitempty"`
	// CentralVignette enables the central vignette test when colorizing. When unset it
	// defaults to whether the camera is in DefaultVignetteCameras.
	CentralVignette *bool `json:"central_vignette,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Camera) Validate(path string) error {
	if config == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "coord_frame")
	}
	if config.CoordFrame == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "coord_frame")
	}
	if config.Intrinsics == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "intrinsic_parameters")
	}
	if err := config.Intrinsics.CheckValid(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if config.Distortion != nil {
		if _, err := config.Distortion.Distorter(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

// Distortion names a lens distortion model and its parameters.
type Distortion struct {
	Model      string    `json:"model"`
	Parameters []float64 `json:"parameters"`
}

// Distorter builds the distortion model.
func (d *Distortion) Distorter() (transform.Distorter, error) {
	if d == nil {
		return nil, nil
	}
	model := d.Model
	if model == "" && len(d.Parameters) > 0 {
		model = string(transform.BrownConradyDistortionType)
	}
	return transform.NewDistorter(transform.DistortionType(model), d.Parameters)
}

// Translation is the translation between two frames, in meters.
type Translation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation is a rotation of TH degrees around the axis (X, Y, Z). A zero axis is no rotation.
type Orientation struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	TH float64 `json:"th"`
}

// Frame places a named frame relative to its parent. Frames with an UpdateChannel are dynamic:
// their pose comes from RigidTransform messages on that channel and Translation and Orientation
// are ignored.
type Frame struct {
	Name          string      `json:"name"`
	Parent        string      `json:"parent"`
	Translation   Translation `json:"translation"`
	Orientation   Orientation `json:"orientation"`
	UpdateChannel string      `json:"update_channel,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Frame) Validate(path string) error {
	if config.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.Parent == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "parent")
	}
	if config.Name == config.Parent {
		return utils.NewConfigValidationError(path, errors.New("a frame cannot be its own parent"))
	}
	return nil
}

// Pose returns the static pose of the frame in its parent.
func (config *Frame) Pose() spatialmath.Pose {
	pt := r3.Vector{X: config.Translation.X, Y: config.Translation.Y, Z: config.Translation.Z}
	axis := r3.Vector{X: config.Orientation.X, Y: config.Orientation.Y, Z: config.Orientation.Z}
	if axis.Norm() == 0 || config.Orientation.TH == 0 {
		return spatialmath.NewPoseFromPoint(pt)
	}
	return spatialmath.NewPoseFromAxisAngle(pt, axis, config.Orientation.TH*math.Pi/180)
}

// BuildFrames creates the frame tree described by frames, binding each dynamic frame to its
// update channel. Frames may be listed in any order.
func BuildFrames(frames []Frame) (*referenceframe.TransformBuffer, error) {
	tb := referenceframe.NewTransformBuffer()
	for _, f := range frames {
		var err error
		if f.UpdateChannel != "" {
			err = tb.AddDynamicFrame(f.Name, f.Parent)
			if err == nil {
				err = tb.BindChannel(f.UpdateChannel, f.Name)
			}
		} else {
			err = tb.AddFrame(f.Name, f.Parent, f.Pose())
		}
		if err != nil {
			return nil, errors.Wrapf(err, "adding frame %q", f.Name)
		}
	}
	return tb, nil
}

// UpdateChannels returns the channels carrying frame updates, sorted.
func UpdateChannels(frames []Frame) []string {
	channels := lo.Uniq(lo.FilterMap(frames, func(f Frame, _ int) (string, bool) {
		return f.UpdateChannel, f.UpdateChannel != ""
	}))
	sort.Strings(channels)
	return channels
}

// Stream binds a channel, or one image type of a multi image channel, to a camera.
type Stream struct {
	Channel string `json:"channel"`
	// Camera defaults to the channel name for single image streams.
	Camera string `json:"camera,omitempty"`
	// ImageType is empty for single image streams, otherwise one of left, right, disparity or
	// depth_mm.
	ImageType string `json:"image_type,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Stream) Validate(path string) error {
	if config.Channel == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "channel")
	}
	it, err := message.ParseImageType(config.ImageType)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if it != message.ImageTypeSingle && config.Camera == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "camera")
	}
	if config.Camera == "" {
		config.Camera = config.Channel
	}
	return nil
}

// Type returns the parsed image type. Call Validate first.
func (config *Stream) Type() message.ImageType {
	it, err := message.ParseImageType(config.ImageType)
	if err != nil {
		return message.ImageTypeSingle
	}
	return it
}

// Transport configures how streams are received. Without MQTT the in process bus is used.
type Transport struct {
	MQTT *MQTT `json:"mqtt,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Transport) Validate(path string) error {
	if config.MQTT != nil {
		return config.MQTT.Validate(path + ".mqtt")
	}
	return nil
}

// MQTT configures the MQTT broker connection.
type MQTT struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	QoS      byte   `json:"qos,omitempty"`
	// TopicPrefix is prepended to every channel name to form the topic.
	TopicPrefix string `json:"topic_prefix,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *MQTT) Validate(path string) error {
	if config.Host == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "host")
	}
	if config.Port == 0 {
		config.Port = DefaultMQTTPort
	}
	if config.Port < 0 || config.Port > math.MaxUint16 {
		return utils.NewConfigValidationError(path, errors.Errorf("invalid port %d", config.Port))
	}
	if config.QoS > 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("qos must be 0, 1 or 2, got %d", config.QoS))
	}
	if config.ClientID == "" {
		config.ClientID = "imagequeue-" + utils.RandomAlphaString(8)
	}
	return nil
}

// LogFile configures a size rotated log file.
type LogFile struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *LogFile) Validate(path string) error {
	if config.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	return nil
}

// AppenderConfig converts the config for the logging package.
func (config *LogFile) AppenderConfig() logging.FileAppenderConfig {
	return logging.FileAppenderConfig{
		Filename:   config.Path,
		MaxSizeMB:  config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAgeDays: config.MaxAgeDays,
	}
}
