package imagequeue

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/atomic"

	"go.viam.com/imagequeue/pointcloud"
	"go.viam.com/imagequeue/utils"
)

// TextureCoordSentinel marks points with no texture coordinates.
const TextureCoordSentinel = -1

// TextureArrayName is the name of the array holding the texture coordinates of a camera.
func TextureArrayName(camera string) string {
	return "tcoords_" + camera
}

func ensureFloatArray(pd *pointcloud.PolyData, name string, comps int, fill ...float32) *pointcloud.FloatArray {
	n := pd.NumberOfPoints()
	if arr, ok := pd.PointData().FloatArray(name); ok && arr.NumberOfComponents() == comps && arr.NumberOfTuples() == n {
		return arr
	}
	arr := pointcloud.NewFloatArray(name, comps, n)
	arr.Fill(fill...)
	pd.PointData().AddArray(arr)
	return arr
}

// ComputeTextureCoords stores, for every point of pd expressed in the local frame, where it lands
// in the named camera's latest frame as (u, v) with the image spanning [0, 1]. The coordinates go
// to the TextureArrayName(name) array of pd, created with TextureCoordSentinel everywhere if
// missing. Points landing outside of the image are not filtered out. It returns how many points
// got coordinates.
func (q *Queue) ComputeTextureCoords(ctx context.Context, name string, pd *pointcloud.PolyData) (int, error) {
	ctx, span := trace.StartSpan(ctx, "imagequeue::ComputeTextureCoords")
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
		q.logger.CDebugw(ctx, "not texturing through uncalibrated camera", "camera", name)
		return 0, newCalibrationUnavailableError(name)
	}
	w, h := cam.frame.Width, cam.frame.Height
	if w <= 0 || h <= 0 {
		return 0, errors.Wrapf(ErrNoImage, "camera %q", name)
	}

	tcoords := ensureFloatArray(pd, TextureArrayName(name), 2, TextureCoordSentinel, TextureCoordSentinel)
	var mapped atomic.Int64
	err = utils.GroupWorkParallel(ctx, pd.NumberOfPoints(), func(_, from, to int) {
		var n int64
		for i := from; i < to; i++ {
			px, err := cam.project(pd.Point(i))
			if err != nil {
				continue
			}
			u, v := normalizedPixel(px, w, h)
			tcoords.SetTuple(i, float32(u), float32(v))
			n++
		}
		mapped.Add(n)
	})
	return int(mapped.Load()), err
}
