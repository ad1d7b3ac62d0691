// Package pointcloud holds point collections with named per point attribute arrays, and reads and
// writes them as PCD and LAS files.
package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
)

// DataArray is a named array of fixed size tuples, one tuple per point.
type DataArray interface {
	Name() string
	NumberOfComponents() int
	NumberOfTuples() int
}

// UCharArray is a DataArray of uint8 components.
type UCharArray struct {
	name  string
	comps int
	data  []uint8
}

// NewUCharArray returns a zeroed array with the given shape.
func NewUCharArray(name string, comps, tuples int) *UCharArray {
	return &UCharArray{name: name, comps: comps, data: make([]uint8, comps*tuples)}
}

// Name returns the array's name.
func (a *UCharArray) Name() string { return a.name }

// NumberOfComponents returns the tuple size.
func (a *UCharArray) NumberOfComponents() int { return a.comps }

// NumberOfTuples returns the number of tuples.
func (a *UCharArray) NumberOfTuples() int {
	if a.comps == 0 {
		return 0
	}
	return len(a.data) / a.comps
}

// Tuple returns the components of tuple i. The slice aliases the array.
func (a *UCharArray) Tuple(i int) []uint8 {
	return a.data[i*a.comps : (i+1)*a.comps]
}

// SetTuple copies vals into tuple i.
func (a *UCharArray) SetTuple(i int, vals ...uint8) {
	copy(a.Tuple(i), vals)
}

// Fill sets every tuple to vals.
func (a *UCharArray) Fill(vals ...uint8) {
	for i := 0; i < a.NumberOfTuples(); i++ {
		a.SetTuple(i, vals...)
	}
}

// Data returns the flat backing slice.
func (a *UCharArray) Data() []uint8 { return a.data }

// FloatArray is a DataArray of float32 components.
type FloatArray struct {
	name  string
	comps int
	data  []float32
}

// NewFloatArray returns a zeroed array with the given shape.
func NewFloatArray(name string, comps, tuples int) *FloatArray {
	return &FloatArray{name: name, comps: comps, data: make([]float32, comps*tuples)}
}

// Name returns the array's name.
func (a *FloatArray) Name() string { return a.name }

// NumberOfComponents returns the tuple size.
func (a *FloatArray) NumberOfComponents() int { return a.comps }

// NumberOfTuples returns the number of tuples.
func (a *FloatArray) NumberOfTuples() int {
	if a.comps == 0 {
		return 0
	}
	return len(a.data) / a.comps
}

// Tuple returns the components of tuple i. The slice aliases the array.
func (a *FloatArray) Tuple(i int) []float32 {
	return a.data[i*a.comps : (i+1)*a.comps]
}

// SetTuple copies vals into tuple i.
func (a *FloatArray) SetTuple(i int, vals ...float32) {
	copy(a.Tuple(i), vals)
}

// Fill sets every tuple to vals.
func (a *FloatArray) Fill(vals ...float32) {
	for i := 0; i < a.NumberOfTuples(); i++ {
		a.SetTuple(i, vals...)
	}
}

// Data returns the flat backing slice.
func (a *FloatArray) Data() []float32 { return a.data }

// PointData is the set of attribute arrays attached to a PolyData, keyed by name.
type PointData struct {
	arrays map[string]DataArray
}

// Array returns the array called name.
func (pd *PointData) Array(name string) (DataArray, bool) {
	a, ok := pd.arrays[name]
	return a, ok
}

// UCharArray returns the array called name if it holds uint8 components.
func (pd *PointData) UCharArray(name string) (*UCharArray, bool) {
	a, ok := pd.arrays[name].(*UCharArray)
	return a, ok
}

// FloatArray returns the array called name if it holds float32 components.
func (pd *PointData) FloatArray(name string) (*FloatArray, bool) {
	a, ok := pd.arrays[name].(*FloatArray)
	return a, ok
}

// AddArray attaches a, replacing any array with the same name.
func (pd *PointData) AddArray(a DataArray) {
	pd.arrays[a.Name()] = a
}

// RemoveArray drops the array called name, if any.
func (pd *PointData) RemoveArray(name string) {
	delete(pd.arrays, name)
}

// Names returns the array names, sorted.
func (pd *PointData) Names() []string {
	names := make([]string, 0, len(pd.arrays))
	for name := range pd.arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PolyData is an ordered collection of 3D points plus per point attribute arrays. It is not safe
// for concurrent mutation, but distinct tuples of an array may be written concurrently.
type PolyData struct {
	points    []r3.Vector
	pointData *PointData
}

// New returns an empty PolyData.
func New() *PolyData {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty PolyData with room for size points.
func NewWithPrealloc(size int) *PolyData {
	return &PolyData{
		points:    make([]r3.Vector, 0, size),
		pointData: &PointData{arrays: map[string]DataArray{}},
	}
}

// NewFromPoints returns a PolyData holding a copy of pts.
func NewFromPoints(pts []r3.Vector) *PolyData {
	pd := NewWithPrealloc(len(pts))
	pd.points = append(pd.points, pts...)
	return pd
}

// AddPoint appends a point. Existing attribute arrays are not resized.
func (pd *PolyData) AddPoint(pt r3.Vector) {
	pd.points = append(pd.points, pt)
}

// NumberOfPoints returns the number of points.
func (pd *PolyData) NumberOfPoints() int {
	return len(pd.points)
}

// Point returns point i.
func (pd *PolyData) Point(i int) r3.Vector {
	return pd.points[i]
}

// Points returns the points. The slice aliases the PolyData.
func (pd *PolyData) Points() []r3.Vector {
	return pd.points
}

// PointData returns the attribute arrays.
func (pd *PolyData) PointData() *PointData {
	return pd.pointData
}
