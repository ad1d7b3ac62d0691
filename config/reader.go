package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/imagequeue/logging"
)

// Read reads a config from the given file, expanding ${VAR} environment references first. Files
// ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{
		ConfigFilePath: originalPath,
	}
	switch strings.ToLower(filepath.Ext(originalPath)) {
	case ".yaml", ".yml":
		if err := decodeYAML(r, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode Config from json")
		}
	}
	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrap(err, "failed to process Config")
	}
	for _, stream := range cfg.Streams {
		if _, ok := cfg.Cameras[stream.Camera]; !ok {
			logger.Warnw("stream camera has no calibration, it can be queried for images but not projected into",
				"channel", stream.Channel, "camera", stream.Camera)
		}
	}
	return &cfg, nil
}

// decodeYAML decodes YAML into the JSON shaped config so both formats share one set of field
// names.
func decodeYAML(r io.Reader, cfg *Config) error {
	var raw interface{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(asJSON, cfg)
}
