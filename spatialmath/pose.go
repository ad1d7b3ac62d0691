// Package spatialmath defines the rigid transforms used to move points between coordinate frames.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// If two floats differ by less than this amount they are considered equal.
const floatEpsilon = 1e-6

// Pose is a rigid transform: a rotation followed by a translation. Applied to a point expressed
// in a source frame it yields the same point expressed in the destination frame.
type Pose struct {
	point       r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose from a translation and a rotation quaternion. The quaternion is
// normalized; a zero quaternion is treated as the identity rotation.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return Pose{point: point, orientation: normalize(orientation)}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return Pose{point: point, orientation: quat.Number{Real: 1}}
}

// NewPoseFromAxisAngle returns a pose rotating by theta radians around axis, then translating.
func NewPoseFromAxisAngle(point, axis r3.Vector, theta float64) Pose {
	if axis.Norm() == 0 {
		return NewPoseFromPoint(point)
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2)
	return NewPose(point, quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s})
}

// NewPoseFromMatrix builds a pose from a 4x4 homogeneous matrix. The upper left 3x3 block must be
// a rotation and the bottom row must be (0, 0, 0, 1).
func NewPoseFromMatrix(m mat.Matrix) (Pose, error) {
	rows, cols := m.Dims()
	if rows != 4 || cols != 4 {
		return NewZeroPose(), errors.Errorf("expected a 4x4 matrix, got %dx%d", rows, cols)
	}
	if math.Abs(m.At(3, 0))+math.Abs(m.At(3, 1))+math.Abs(m.At(3, 2)) > floatEpsilon ||
		math.Abs(m.At(3, 3)-1) > floatEpsilon {
		return NewZeroPose(), errors.New("matrix is not a rigid homogeneous transform")
	}
	rot := mat.NewDense(3, 3, nil)
	rot.Copy(m)
	if det := mat.Det(rot); math.Abs(det-1) > 1e-3 {
		return NewZeroPose(), errors.Errorf("rotation block has determinant %f, expected 1", det)
	}
	return NewPose(r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}, rotationToQuat(rot)), nil
}

// NewPoseFromRowMajor builds a pose from 16 values of a row major 4x4 matrix.
func NewPoseFromRowMajor(values []float64) (Pose, error) {
	if len(values) != 16 {
		return NewZeroPose(), errors.Errorf("expected 16 matrix values, got %d", len(values))
	}
	return NewPoseFromMatrix(mat.NewDense(4, 4, values))
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.point
}

// Orientation returns the unit rotation quaternion of the pose.
func (p Pose) Orientation() quat.Number {
	if p.orientation == (quat.Number{}) {
		return quat.Number{Real: 1}
	}
	return p.orientation
}

// Transform maps a point from the pose's source frame into its destination frame.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return rotate(p.Orientation(), pt).Add(p.point)
}

// Matrix returns the 4x4 homogeneous matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	q := p.Orientation()
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(4, 4, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), p.point.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), p.point.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), p.point.Z,
		0, 0, 0, 1,
	})
}

// Compose returns the pose that applies b first and then a.
func Compose(a, b Pose) Pose {
	return Pose{
		point:       a.Transform(b.point),
		orientation: normalize(quat.Mul(a.Orientation(), b.Orientation())),
	}
}

// PoseInverse returns the transform undoing p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation())
	return Pose{
		point:       rotate(inv, p.point).Mul(-1),
		orientation: inv,
	}
}

// Interpolate returns the pose a fraction `by` of the way from a to b. Translation is linear and
// rotation uses spherical linear interpolation.
func Interpolate(a, b Pose, by float64) Pose {
	return Pose{
		point:       a.point.Add(b.point.Sub(a.point).Mul(by)),
		orientation: slerp(a.Orientation(), b.Orientation(), by),
	}
}

// PoseAlmostEqual returns whether two poses are within a small tolerance of each other.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, floatEpsilon)
}

// PoseAlmostEqualEps is PoseAlmostEqual with a caller supplied tolerance.
func PoseAlmostEqualEps(a, b Pose, eps float64) bool {
	if a.point.Sub(b.point).Norm() > eps {
		return false
	}
	// q and -q are the same rotation.
	qa, qb := a.Orientation(), b.Orientation()
	return math.Abs(math.Abs(dot(qa, qb))-1) < eps
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

func normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

func dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

func slerp(a, b quat.Number, by float64) quat.Number {
	cosTheta := dot(a, b)
	if cosTheta < 0 {
		b = quat.Scale(-1, b)
		cosTheta = -cosTheta
	}
	if cosTheta > 1-floatEpsilon {
		return normalize(quat.Add(a, quat.Scale(by, quat.Sub(b, a))))
	}
	theta := math.Acos(cosTheta)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-by)*theta) / sinTheta
	wb := math.Sin(by*theta) / sinTheta
	return normalize(quat.Add(quat.Scale(wa, a), quat.Scale(wb, b)))
}

// rotationToQuat converts a rotation matrix to a quaternion (Shepperd's method).
func rotationToQuat(r mat.Matrix) quat.Number {
	m00, m11, m22 := r.At(0, 0), r.At(1, 1), r.At(2, 2)
	trace := m00 + m11 + m22
	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{
			Real: s / 4,
			Imag: (r.At(2, 1) - r.At(1, 2)) / s,
			Jmag: (r.At(0, 2) - r.At(2, 0)) / s,
			Kmag: (r.At(1, 0) - r.At(0, 1)) / s,
		}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{
			Real: (r.At(2, 1) - r.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (r.At(0, 1) + r.At(1, 0)) / s,
			Kmag: (r.At(0, 2) + r.At(2, 0)) / s,
		}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{
			Real: (r.At(0, 2) - r.At(2, 0)) / s,
			Imag: (r.At(0, 1) + r.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (r.At(1, 2) + r.At(2, 1)) / s,
		}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{
			Real: (r.At(1, 0) - r.At(0, 1)) / s,
			Imag: (r.At(0, 2) + r.At(2, 0)) / s,
			Jmag: (r.At(1, 2) + r.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
	return normalize(q)
}
