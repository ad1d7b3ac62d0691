package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/logging"
)

// A Watcher is responsible for watching for changes to a config file and delivering the
// re-read config.
type Watcher interface {
	Config() <-chan *Config
	Close() error
}

type fsConfigWatcher struct {
	fsWatcher               *fsnotify.Watcher
	configCh                chan *Config
	cancel                  context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher returns a Watcher for the file at filePath. Configs that fail to read or validate
// are logged and skipped, as are configs whose cameras, frames, streams and log level did not
// change.
func NewWatcher(ctx context.Context, filePath string, initial *Config, logger logging.Logger) (Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors often replace the file, so watch its directory
	if err := fsWatcher.Add(filepath.Dir(filePath)); err != nil {
		utils.UncheckedError(fsWatcher.Close())
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	w := &fsConfigWatcher{
		fsWatcher: fsWatcher,
		configCh:  make(chan *Config),
		cancel:    cancel,
	}
	target := filepath.Clean(filePath)
	last := initial
	w.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer w.activeBackgroundWorkers.Done()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("config watcher error", "error", err)
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				newConfig, err := Read(filePath, logger)
				if err != nil {
					logger.Warnw("failed to reload config", "path", filePath, "error", err)
					continue
				}
				if last != nil && reflect.DeepEqual(reloadable(last), reloadable(newConfig)) {
					continue
				}
				select {
				case <-cancelCtx.Done():
					return
				case w.configCh <- newConfig:
					last = newConfig
				}
			}
		}
	})
	return w, nil
}

// reloadable is the part of a config that can change without a restart.
func reloadable(cfg *Config) Config {
	return Config{Cameras: cfg.Cameras, Frames: cfg.Frames, Streams: cfg.Streams, LogLevel: cfg.LogLevel}
}

func (w *fsConfigWatcher) Config() <-chan *Config {
	return w.configCh
}

func (w *fsConfigWatcher) Close() error {
	w.cancel()
	w.activeBackgroundWorkers.Wait()
	return w.fsWatcher.Close()
}
