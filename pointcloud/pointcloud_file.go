package pointcloud

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/logging"
)

// NewFromFile returns a point cloud read in from the given .pcd or .las file.
func NewFromFile(fn string, logger logging.Logger) (*PolyData, error) {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return NewFromLASFile(fn, logger)
	case ".pcd":
		return NewFromPCDFile(fn)
	default:
		return nil, errors.Errorf("do not know how to read file %q", fn)
	}
}

// WriteToFile writes pd to a .pcd (binary) or .las file.
func WriteToFile(pd *PolyData, fn string) error {
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".las":
		return WriteToLASFile(pd, fn)
	case ".pcd":
		return WriteToPCDFile(pd, fn, PCDBinary)
	default:
		return errors.Errorf("do not know how to write file %q", fn)
	}
}

// NewFromPCDFile reads a PCD file.
func NewFromPCDFile(fn string) (*PolyData, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	pd, err := ReadPCD(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %q", fn)
	}
	return pd, nil
}

// WriteToPCDFile writes pd as a PCD file.
func WriteToPCDFile(pd *PolyData, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ToPCD(pd, f, outputType)
}
