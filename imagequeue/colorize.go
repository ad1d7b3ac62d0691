package imagequeue

import (
	"context"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/utils"
)

// centralVignetteRadiusSq bounds the squared distance, in normalized image coordinates, between
// the image center and the pixels a central vignette camera may color points with.
const centralVignetteRadiusSq = 0.2

// normalizedPixel maps a pixel to [0, 1] across the image. Pixels outside of the image map
// outside of that range.
func normalizedPixel(px r2.Point, width, height int) (float64, float64) {
	return px.X / float64(max(width-1, 1)), px.Y / float64(max(height-1, 1))
}

func outsideCentralVignette(px r2.Point, width, height int) bool {
	u, v := normalizedPixel(px, width, height)
	return (0.5-u)*(0.5-u)+(0.5-v)*(0.5-v) > centralVignetteRadiusSq
}

// ensureUCharArray returns the named array of pd if it has comps components per point, and
// otherwise replaces it with one where every tuple is fill.
func ensureUCharArray(pd *pointcloud.PolyData, name string, comps int, fill ...uint8) *pointcloud.UCharArray {
	n := pd.NumberOfPoints()
	if arr, ok := pd.PointData().UCharArray(name); ok && arr.NumberOfComponents() == comps && arr.NumberOfTuples() == n {
		return arr
	}
	arr := pointcloud.NewUCharArray(name, comps, n)
	arr.Fill(fill...)
	pd.PointData().AddArray(arr)
	return arr
}

// ColorizePoints colors the points of pd, expressed in the local frame, with the pixels of the
// named camera's latest frame. The colors go to the "rgb" array of pd, which is created white if
// missing; points that do not land in the image keep their color. Central vignette cameras only
// color points landing near the center of the image. It returns how many points were colored.
func (q *Queue) ColorizePoints(ctx context.Context, name string, pd *pointcloud.PolyData) (int, error) {
	ctx, span := trace.StartSpan(ctx, "imagequeue::ColorizePoints")
	defer span.End()

	if pd == nil {
		return 0, errors.New("point collection must not be nil")
	}
	cam, err := q.camera(name)
	if err != nil {
		return 0, err
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()

	if !cam.hasCalibration {
		q.logger.CDebugw(ctx, "not colorizing through uncalibrated camera", "camera", name)
		return 0, newCalibrationUnavailableError(name)
	}
	img, err := cam.materialize(q.decoder)
	if err != nil {
		q.logger.Warnw("not colorizing, frame could not be decoded", "camera", name, "error", err)
		return 0, err
	}

	rgb := ensureUCharArray(pd, pointcloud.ColorArrayName, 3, 255, 255, 255)
	if img.Empty() {
		return 0, errors.Wrapf(ErrNoImage, "camera %q", name)
	}

	w, h := img.Width(), img.Height()
	pix := img.Pix()
	var colored atomic.Int64
	err = utils.GroupWorkParallel(ctx, pd.NumberOfPoints(), func(_, from, to int) {
		var n int64
		for i := from; i < to; i++ {
			px, err := cam.project(pd.Point(i))
			if err != nil {
				continue
			}
			x, y := int(px.X), int(px.Y)
			if x < 0 || x >= w || y < 0 || y >= h {
				continue
			}
			if cam.centralVignette && outsideCentralVignette(px, w, h) {
				continue
			}
			off := img.PixOffset(x, y)
			rgb.SetTuple(i, pix[off], pix[off+1], pix[off+2])
			n++
		}
		colored.Add(n)
	})
	return int(colored.Load()), err
}
