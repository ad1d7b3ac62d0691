package pointcloud

import (
	"fmt"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/imagequeue/logging"
)

// Points farther than this from the origin may not survive the LAS integer encoding.
const (
	maxPreciseFloat64 = float64(1 << 53)
	minPreciseFloat64 = -maxPreciseFloat64
)

// NewFromLASFile returns a point cloud from reading a LAS file. Point formats with color fill
// the "rgb" array. If any lossiness of points could occur from reading it in, it's reported but
// is not an error.
func NewFromLASFile(fn string, logger logging.Logger) (*PolyData, error) {
	lf, err := lidario.NewLasFile(fn, "r")
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(lf.Close)

	pd := NewWithPrealloc(lf.Header.NumberPoints)
	var colors *UCharArray
	if lf.Header.PointFormatID == 2 {
		colors = NewUCharArray(ColorArrayName, 3, lf.Header.NumberPoints)
		pd.PointData().AddArray(colors)
	}
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		data := p.PointData()

		x, y, z := data.X, data.Y, data.Z
		if x < minPreciseFloat64 || x > maxPreciseFloat64 ||
			y < minPreciseFloat64 || y > maxPreciseFloat64 ||
			z < minPreciseFloat64 || z > maxPreciseFloat64 {
			logger.Warnw("potential floating point lossiness for LAS point",
				"point", data, "range", fmt.Sprintf("[%f,%f]", minPreciseFloat64, maxPreciseFloat64))
		}
		pd.AddPoint(r3.Vector{X: x, Y: y, Z: z})

		if colors != nil && p.RgbData() != nil {
			rgb := p.RgbData()
			colors.SetTuple(i, uint8(rgb.Red/256), uint8(rgb.Green/256), uint8(rgb.Blue/256))
		}
	}
	return pd, nil
}

// WriteToLASFile writes the point cloud out to a LAS file. Points are written with format 2 when
// the cloud has an "rgb" array.
func WriteToLASFile(pd *PolyData, fn string) (err error) {
	colors, hasColor := pd.PointData().UCharArray(ColorArrayName)
	if hasColor && (colors.NumberOfComponents() != 3 || colors.NumberOfTuples() != pd.NumberOfPoints()) {
		return errors.Errorf("rgb array has shape %dx%d, expected %dx3",
			colors.NumberOfTuples(), colors.NumberOfComponents(), pd.NumberOfPoints())
	}

	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	pointFormatID := 0
	if hasColor {
		pointFormatID = 2
	}
	if err := lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return err
	}

	for i, pos := range pd.Points() {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if hasColor {
			c := colors.Tuple(i)
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(c[0]) * 256,
					Green: uint16(c[1]) * 256,
					Blue:  uint16(c[2]) * 256,
				},
			}
		}
		if err := lf.AddLasPoint(lp); err != nil {
			return err
		}
	}
	return nil
}
