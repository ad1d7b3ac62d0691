package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

// ColorArrayName is the attribute array holding per point RGB, 3 uint8 components.
const ColorArrayName = "rgb"

type pcdValType byte

const (
	pcdValFloat pcdValType = 'F'
	pcdValInt   pcdValType = 'I'
	pcdValUInt  pcdValType = 'U'
)

type pcdField struct {
	name  string
	size  int
	typ   pcdValType
	count int
}

func (f pcdField) packedColor() bool {
	return (f.name == "rgb" || f.name == "rgba") && f.size == 4 && f.count == 1
}

type pcdHeader struct {
	fields    []pcdField
	width     uint64
	height    uint64
	viewpoint [7]float64
	points    uint64
	data      PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// ToPCD writes the points and every attribute array. The "rgb" array is packed into a single
// 4 byte field, other uint8 arrays become U 1 fields and float arrays F 4 fields.
func ToPCD(pd *PolyData, out io.Writer, outputType PCDType) error {
	if outputType == PCDCompressed {
		return errors.New("compressed PCD not yet implemented")
	}
	fields := []pcdField{
		{name: "x", size: 4, typ: pcdValFloat, count: 1},
		{name: "y", size: 4, typ: pcdValFloat, count: 1},
		{name: "z", size: 4, typ: pcdValFloat, count: 1},
	}
	arrays := make([]DataArray, 0, len(pd.PointData().Names()))
	for _, name := range pd.PointData().Names() {
		a, _ := pd.PointData().Array(name)
		if a.NumberOfTuples() != pd.NumberOfPoints() {
			return errors.Errorf("array %q has %d tuples for %d points", name, a.NumberOfTuples(), pd.NumberOfPoints())
		}
		switch arr := a.(type) {
		case *UCharArray:
			if name == ColorArrayName && arr.NumberOfComponents() == 3 {
				fields = append(fields, pcdField{name: name, size: 4, typ: pcdValUInt, count: 1})
			} else {
				fields = append(fields, pcdField{name: name, size: 1, typ: pcdValUInt, count: arr.NumberOfComponents()})
			}
		case *FloatArray:
			fields = append(fields, pcdField{name: name, size: 4, typ: pcdValFloat, count: arr.NumberOfComponents()})
		default:
			return errors.Errorf("cannot write array %q of type %T", name, a)
		}
		arrays = append(arrays, a)
	}

	w := bufio.NewWriter(out)
	names := make([]string, len(fields))
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
		sizes[i] = strconv.Itoa(f.size)
		types[i] = string(f.typ)
		counts[i] = strconv.Itoa(f.count)
	}
	dataName := "ascii"
	if outputType == PCDBinary {
		dataName = "binary"
	}
	if _, err := fmt.Fprintf(w, "VERSION .7\n"+
		"FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n"+
		"WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		strings.Join(names, " "), strings.Join(sizes, " "), strings.Join(types, " "), strings.Join(counts, " "),
		pd.NumberOfPoints(), pd.NumberOfPoints(), dataName); err != nil {
		return err
	}

	var err error
	switch outputType {
	case PCDBinary:
		err = writePCDBinary(pd, arrays, w)
	case PCDAscii:
		err = writePCDAscii(pd, arrays, w)
	default:
		err = errors.Errorf("unknown pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return w.Flush()
}

func packColor(c []uint8) uint32 {
	return uint32(c[0])<<16 | uint32(c[1])<<8 | uint32(c[2])
}

func unpackColor(c uint32) [3]uint8 {
	return [3]uint8{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c)}
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func writePCDAscii(pd *PolyData, arrays []DataArray, out *bufio.Writer) error {
	tokens := make([]string, 0, 8)
	for i, pt := range pd.Points() {
		tokens = append(tokens[:0], formatFloat(float32(pt.X)), formatFloat(float32(pt.Y)), formatFloat(float32(pt.Z)))
		for _, a := range arrays {
			switch arr := a.(type) {
			case *UCharArray:
				if arr.Name() == ColorArrayName && arr.NumberOfComponents() == 3 {
					tokens = append(tokens, strconv.FormatUint(uint64(packColor(arr.Tuple(i))), 10))
					continue
				}
				for _, v := range arr.Tuple(i) {
					tokens = append(tokens, strconv.FormatUint(uint64(v), 10))
				}
			case *FloatArray:
				for _, v := range arr.Tuple(i) {
					tokens = append(tokens, formatFloat(v))
				}
			}
		}
		if _, err := out.WriteString(strings.Join(tokens, " ") + "\n"); err != nil {
			return err
		}
	}
	return nil
}

func writePCDBinary(pd *PolyData, arrays []DataArray, out *bufio.Writer) error {
	buf := make([]byte, 0, 64)
	for i, pt := range pd.Points() {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pt.X)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pt.Y)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pt.Z)))
		for _, a := range arrays {
			switch arr := a.(type) {
			case *UCharArray:
				if arr.Name() == ColorArrayName && arr.NumberOfComponents() == 3 {
					buf = binary.LittleEndian.AppendUint32(buf, packColor(arr.Tuple(i)))
					continue
				}
				buf = append(buf, arr.Tuple(i)...)
			case *FloatArray:
				for _, v := range arr.Tuple(i) {
					buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
				}
			}
		}
		if _, err := out.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	perField := func() error {
		if len(tokens) != len(header.fields) {
			return fmt.Errorf("unexpected number of fields in %s line", name)
		}
		return nil
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if len(tokens) == 0 {
			return errors.New("pcd has no fields")
		}
		header.fields = make([]pcdField, len(tokens))
		for i, token := range tokens {
			header.fields[i].name = token
		}
	case "SIZE":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			header.fields[i].size, err = strconv.Atoi(token)
			if err != nil {
				return fmt.Errorf("invalid SIZE field %s", token)
			}
		}
	case "TYPE":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			if len(token) != 1 {
				return fmt.Errorf("invalid TYPE field %s", token)
			}
			header.fields[i].typ = pcdValType(token[0])
			if err := checkFieldType(header.fields[i]); err != nil {
				return err
			}
		}
	case "COUNT":
		if err := perField(); err != nil {
			return err
		}
		for i, token := range tokens {
			header.fields[i].count, err = strconv.Atoi(token)
			if err != nil || header.fields[i].count < 1 {
				return fmt.Errorf("invalid COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WIDTH field %s: %w", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid HEIGHT field %s: %w", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for i, token := range tokens {
			header.viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return fmt.Errorf("invalid VIEWPOINT field %s: %w", token, err)
			}
		}
	case "POINTS":
		points, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid POINTS field %s: %w", value, err)
		}
		if points != header.width*header.height {
			return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return fmt.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

func checkFieldType(f pcdField) error {
	switch f.typ {
	case pcdValFloat:
		if f.size == 4 || f.size == 8 {
			return nil
		}
	case pcdValInt, pcdValUInt:
		if f.size == 1 || f.size == 2 || f.size == 4 || f.size == 8 {
			return nil
		}
	}
	return fmt.Errorf("unsupported field %s of type %c and size %d", f.name, f.typ, f.size)
}

// ReadPCD reads an ascii or binary PCD stream. x, y and z become the points, a packed rgb or
// rgba field becomes the "rgb" array, and every other field becomes an attribute array of the
// same name: uint8 for U 1 fields, float32 otherwise.
func ReadPCD(inRaw io.Reader) (*PolyData, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %w", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	reader, err := newPCDPointReader(header)
	if err != nil {
		return nil, err
	}
	switch header.data {
	case PCDAscii:
		err = reader.readAscii(in)
	case PCDBinary:
		err = reader.readBinary(in)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, fmt.Errorf("unsupported pcd data type %v", header.data)
	}
	if err != nil {
		return nil, err
	}
	return reader.pd, nil
}

// pcdPointReader routes each field of each record into the PolyData.
type pcdPointReader struct {
	header  pcdHeader
	pd      *PolyData
	columns []func(i int, vals []float64)
	point   r3.Vector
}

func newPCDPointReader(header pcdHeader) (*pcdPointReader, error) {
	r := &pcdPointReader{
		header:  header,
		pd:      NewWithPrealloc(int(header.points)),
		columns: make([]func(int, []float64), len(header.fields)),
	}
	n := int(header.points)
	var seen [3]bool
	for j, f := range header.fields {
		switch {
		case f.name == "x" || f.name == "y" || f.name == "z":
			axis := int(f.name[0] - 'x')
			seen[axis] = true
			r.columns[j] = func(_ int, vals []float64) {
				switch axis {
				case 0:
					r.point.X = vals[0]
				case 1:
					r.point.Y = vals[0]
				default:
					r.point.Z = vals[0]
				}
			}
		case f.packedColor():
			colors := NewUCharArray(ColorArrayName, 3, n)
			r.pd.PointData().AddArray(colors)
			r.columns[j] = func(i int, vals []float64) {
				c := unpackColor(uint32(vals[0]))
				colors.SetTuple(i, c[:]...)
			}
		case f.name == "_":
			r.columns[j] = func(int, []float64) {}
		case f.typ == pcdValUInt && f.size == 1:
			arr := NewUCharArray(f.name, f.count, n)
			r.pd.PointData().AddArray(arr)
			r.columns[j] = func(i int, vals []float64) {
				t := arr.Tuple(i)
				for k, v := range vals {
					t[k] = uint8(v)
				}
			}
		default:
			arr := NewFloatArray(f.name, f.count, n)
			r.pd.PointData().AddArray(arr)
			r.columns[j] = func(i int, vals []float64) {
				t := arr.Tuple(i)
				for k, v := range vals {
					t[k] = float32(v)
				}
			}
		}
	}
	if !seen[0] || !seen[1] || !seen[2] {
		return nil, errors.New("pcd must have x, y and z fields")
	}
	return r, nil
}

func (r *pcdPointReader) readAscii(in *bufio.Reader) error {
	width := 0
	for _, f := range r.header.fields {
		width += f.count
	}
	vals := make([]float64, width)
	for i := 0; i < int(r.header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != width {
			return fmt.Errorf("unexpected number of fields in point %d", i)
		}
		for k, token := range tokens {
			vals[k], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return fmt.Errorf("invalid point %d field %s: %w", i, token, err)
			}
		}
		k := 0
		for j, f := range r.header.fields {
			v := vals[k : k+f.count]
			if f.packedColor() && f.typ == pcdValFloat {
				v = []float64{float64(math.Float32bits(float32(v[0])))}
			}
			r.columns[j](i, v)
			k += f.count
		}
		r.pd.AddPoint(r.point)
	}
	return nil
}

func (r *pcdPointReader) readBinary(in *bufio.Reader) error {
	recordSize := 0
	maxCount := 0
	for _, f := range r.header.fields {
		recordSize += f.size * f.count
		if f.count > maxCount {
			maxCount = f.count
		}
	}
	record := make([]byte, recordSize)
	vals := make([]float64, maxCount)
	for i := 0; i < int(r.header.points); i++ {
		if _, err := io.ReadFull(in, record); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		off := 0
		for j, f := range r.header.fields {
			for k := 0; k < f.count; k++ {
				raw := record[off : off+f.size]
				if f.packedColor() {
					vals[k] = float64(binary.LittleEndian.Uint32(raw))
				} else {
					vals[k] = decodeBinaryValue(f, raw)
				}
				off += f.size
			}
			r.columns[j](i, vals[:f.count])
		}
		r.pd.AddPoint(r.point)
	}
	return nil
}

func decodeBinaryValue(f pcdField, raw []byte) float64 {
	switch f.typ {
	case pcdValFloat:
		if f.size == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(raw))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	case pcdValInt:
		switch f.size {
		case 1:
			return float64(int8(raw[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(raw)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(raw)))
		default:
			return float64(int64(binary.LittleEndian.Uint64(raw)))
		}
	default:
		switch f.size {
		case 1:
			return float64(raw[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(raw))
		case 4:
			return float64(binary.LittleEndian.Uint32(raw))
		default:
			return float64(binary.LittleEndian.Uint64(raw))
		}
	}
}
