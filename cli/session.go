package cli

import (
	"context"
	"io"
	"reflect"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/config"
	"go.viam.com/imagequeue/imagequeue"
	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/referenceframe"
	"go.viam.com/imagequeue/transport"
)

// fileChannelPrefix prefixes the channels images read from files are handed to the queue on, so
// they never collide with configured streams.
const fileChannelPrefix = "file:"

// session is an image queue built from a config, along with the collaborators it was built with.
type session struct {
	cfg         *config.Config
	logger      logging.Logger
	calibration *config.Calibration
	frames      *referenceframe.TransformBuffer
	queue       *imagequeue.Queue
}

// newSession builds the frame tree and the queue of cfg. With a subscriber, frame update channels
// and configured streams are subscribed to.
func newSession(ctx context.Context, cfg *config.Config, logger logging.Logger, sub transport.Subscriber) (*session, error) {
	frames, err := config.BuildFrames(cfg.Frames)
	if err != nil {
		return nil, err
	}
	s := &session{
		cfg:         cfg,
		logger:      logger,
		calibration: config.NewCalibration(cfg.Cameras),
		frames:      frames,
	}
	opts := imagequeue.Options{
		Logger:      logger.Sublogger("queue"),
		Calibration: s.calibration,
		Transforms:  frames,
		Subscriber:  sub,
		BodyFrame:   cfg.BodyFrame,
	}
	s.queue = imagequeue.New(opts)

	for _, name := range cfg.CameraNames() {
		if err := s.queue.RegisterCamera(name); err != nil {
			return nil, err
		}
	}
	if sub == nil {
		return s, nil
	}
	for _, channel := range config.UpdateChannels(cfg.Frames) {
		if err := sub.Subscribe(ctx, channel, s.handleFrameUpdate); err != nil {
			return nil, errors.Wrapf(err, "subscribing to frame updates on %q", channel)
		}
	}
	if err := s.addStreams(ctx, cfg.Streams); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) handleFrameUpdate(payload []byte, channel string) {
	if err := s.frames.HandleTransformMessage(payload, channel); err != nil {
		s.logger.Debugw("failed to apply frame update", "channel", channel, "error", err)
	}
}

func (s *session) addStreams(ctx context.Context, streams []config.Stream) error {
	var errs error
	for _, stream := range streams {
		errs = multierr.Append(errs, s.queue.AddCameraStream(ctx, stream.Channel, stream.Camera, stream.Type()))
	}
	return errs
}

// applyConfig takes what can change while serving from a reloaded config: new cameras and
// streams, and the log level. Frames and cameras already in use keep their old settings.
func (s *session) applyConfig(ctx context.Context, cfg *config.Config) error {
	config.UpdateFileConfigLogLevel(cfg.LogLevel)
	s.calibration.Update(cfg.Cameras)
	if !reflect.DeepEqual(s.cfg.Frames, cfg.Frames) {
		s.logger.Warn("frame changes are only applied on restart")
	}
	s.cfg = cfg
	var errs error
	for _, name := range cfg.CameraNames() {
		errs = multierr.Append(errs, s.queue.RegisterCamera(name))
	}
	return multierr.Append(errs, s.addStreams(ctx, cfg.Streams))
}

// watchConfig applies every config delivered on configs until ctx is done.
func (s *session) watchConfig(ctx context.Context, configs <-chan *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-configs:
			if !ok {
				return nil
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.logger.Warnw("failed to apply reloaded config", "error", err)
				continue
			}
			s.logger.Infow("applied reloaded config", "streams", len(cfg.Streams))
		}
	}
}

// loadImage hands an image file to the queue as the latest frame of camera, taken at utime.
// Frame poses that cannot be looked up at utime are logged and left as identity.
func (s *session) loadImage(ctx context.Context, camera, path string, utime int64) error {
	frame, err := imageFileFrame(path, utime, 0)
	if err != nil {
		return err
	}
	channel := fileChannelPrefix + camera
	if err := s.queue.AddCameraStream(ctx, channel, camera, message.ImageTypeSingle); err != nil {
		return err
	}
	err = s.queue.HandleImageMessage(frame.Marshal(), channel)
	if errors.Is(err, imagequeue.ErrTransformUnavailable) {
		s.logger.Warnw("using identity transforms", "camera", camera, "error", err)
		return nil
	}
	return err
}

// loadConfigAndLogger reads the config named by the --config flag and returns a logger writing to
// the app's error writer, and to the configured log file if any. The returned closer flushes and
// closes the logs.
func loadConfigAndLogger(c *cli.Context) (*config.Config, logging.Logger, func(), error) {
	logger := logging.NewBlankLogger("imagequeue")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	config.InitLoggingSettings(logger, c.Bool(flagDebug))

	path := c.Path(flagConfig)
	if path == "" {
		return nil, nil, nil, errors.Errorf("--%s is required", flagConfig)
	}
	cfg, err := config.Read(path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	config.UpdateFileConfigLogLevel(cfg.LogLevel)

	var closers []io.Closer
	logFile := cfg.LogFile
	if p := c.Path(flagLogFile); p != "" {
		logFile = &config.LogFile{Path: p}
	}
	if logFile != nil {
		appender, closer := logging.NewFileAppender(logFile.AppenderConfig())
		logger.AddAppender(appender)
		closers = append(closers, closer)
	}
	closeLogs := func() {
		utils.UncheckedError(logger.Sync())
		for _, closer := range closers {
			utils.UncheckedError(closer.Close())
		}
	}
	return cfg, logger, closeLogs, nil
}
