package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/imagequeue/config"
	"go.viam.com/imagequeue/imagequeue"
	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/rimage"
	"go.viam.com/imagequeue/transport/mqtt"
)

// snapshotCloudName is the file colored snapshot clouds are written to.
const snapshotCloudName = "cloud.pcd"

// ServeAction subscribes to the configured streams until interrupted, reloading streams and
// cameras when the config file changes.
func ServeAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, closeLogs, err := loadConfigAndLogger(c)
	if err != nil {
		return err
	}
	defer closeLogs()
	if cfg.Transport.MQTT == nil {
		return errors.New("serving needs transport.mqtt in the config")
	}

	snap := &snapshotter{dir: c.Path(flagSnapshotDir), written: map[string]int64{}}
	if path := c.Path(flagCloud); path != "" {
		if snap.dir == "" {
			return errors.Errorf("--%s needs --%s", flagCloud, flagSnapshotDir)
		}
		if snap.cloud, err = pointcloud.NewFromFile(path, logger); err != nil {
			return err
		}
	}
	if snap.dir != "" {
		if err := os.MkdirAll(snap.dir, 0o750); err != nil {
			return err
		}
	}

	client, err := mqtt.Connect(ctx, *cfg.Transport.MQTT, logger.Sublogger("mqtt"))
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(client.Close)

	s, err := newSession(ctx, cfg, logger, client)
	if err != nil {
		return err
	}
	snap.session = s
	watcher, err := config.NewWatcher(ctx, cfg.ConfigFilePath, cfg, logger.Sublogger("config"))
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(watcher.Close)

	logger.Infow("serving", "cameras", s.queue.CameraNames(), "channels", s.queue.Channels())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.watchConfig(gctx, watcher.Config())
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.Duration(flagInterval))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
			s.logStatus()
			if err := snap.write(gctx); err != nil {
				logger.Warnw("failed to write snapshots", "error", err)
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func (s *session) logStatus() {
	for _, name := range s.queue.CameraNames() {
		info, err := s.queue.Resolve(name)
		if err != nil {
			continue
		}
		s.logger.Infow("camera status",
			"camera", name,
			"calibrated", info.HasCalibration,
			"utime", info.Utime,
			"width", info.Width,
			"height", info.Height,
			"format", info.PixelFormat)
	}
}

// snapshotter writes the latest frame of every camera to dir as <camera>.png. With a cloud, a copy
// of it colored by every camera, and holding each camera's texture coordinates, is written too.
type snapshotter struct {
	session *session
	dir     string
	cloud   *pointcloud.PolyData
	written map[string]int64
}

func (sn *snapshotter) write(ctx context.Context) error {
	if sn.dir == "" {
		return nil
	}
	q := sn.session.queue
	var errs error
	changed := false
	for _, name := range q.CameraNames() {
		if utime := q.CurrentImageTime(name); utime == 0 || sn.written[name] == utime {
			continue
		}
		img, utime, err := q.Image(ctx, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := rimage.WriteImageToFile(filepath.Join(sn.dir, name+".png"), img); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sn.written[name] = utime
		changed = true
	}
	if sn.cloud == nil || !changed {
		return errs
	}

	pd := pointcloud.NewFromPoints(sn.cloud.Points())
	for _, name := range q.CameraNames() {
		if _, err := q.ColorizePoints(ctx, name, pd); err != nil && !skippable(err) {
			errs = multierr.Append(errs, err)
		}
		if _, err := q.ComputeTextureCoords(ctx, name, pd); err != nil && !skippable(err) {
			errs = multierr.Append(errs, err)
		}
	}
	return multierr.Append(errs, pointcloud.WriteToFile(pd, filepath.Join(sn.dir, snapshotCloudName)))
}

// skippable reports errors of cameras that simply cannot contribute to a snapshot.
func skippable(err error) bool {
	return errors.Is(err, imagequeue.ErrNoImage) || errors.Is(err, imagequeue.ErrCalibrationUnavailable)
}
