// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact stores typed arrays, one per file, for region-scoped
// feature data.
//
// Each artifact is a recordio file (zstd-compressed blocks).  The header
// carries the element type and the full shape; there is one record per index
// of the leading dimension.  Float32 records hold the row's values in
// little-endian order, string records hold the raw bytes.  The trailer repeats
// the row count so truncated files are detected on read.
package artifact

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
)

// Ext is the file extension of every artifact.
const Ext = ".rio"

const (
	dtypeHeader    = "dtype"
	shapeHeader    = "shape"
	trailerVersion = 1

	dtypeFloat32 = "float32"
	dtypeString  = "string"

	// maxElements bounds the element count a header may declare.
	maxElements = 1 << 31
	// maxPrealloc bounds the capacity reserved from header values before any
	// record is read.
	maxPrealloc = 1 << 20
)

func init() {
	recordiozstd.Init()
}

// Path returns the artifact path for one metric of one region.
func Path(dir, key, metric string) string {
	return filepath.Join(dir, key+"."+metric+Ext)
}

// Exists reports whether an artifact is present.  Only a not-exist stat
// result counts as absent; any other stat failure is returned.
func Exists(ctx context.Context, path string) (bool, error) {
	_, err := file.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(errors.NotExist, err) || os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.E(err, "artifact.Exists", path)
}

// MkdirAll creates dir and its parents for local paths.  Paths with a URL
// scheme are left alone since object stores have no directories.
func MkdirAll(dir string) error {
	if strings.Contains(dir, "://") {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Float32 is a dense row-major float32 array of arbitrary rank >= 1.
type Float32 struct {
	Shape []int
	Data  []float32
}

// NDim returns the array rank.
func (a Float32) NDim() int {
	return len(a.Shape)
}

// Rows returns the size of the leading dimension.
func (a Float32) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Cols returns the number of elements per leading index, i.e. the product of
// the trailing dimensions.  It is 1 for a vector.
func (a Float32) Cols() int {
	n := 1
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// Row returns the elements at leading index i.  The slice aliases a.Data.
func (a Float32) Row(i int) []float32 {
	cols := a.Cols()
	return a.Data[i*cols : (i+1)*cols]
}

func (a Float32) validate() error {
	if len(a.Shape) == 0 {
		return errors.E("artifact: array has no shape")
	}
	n := 1
	for _, d := range a.Shape {
		if d < 0 {
			return errors.E(fmt.Sprintf("artifact: negative dimension in shape %v", a.Shape))
		}
		n *= d
	}
	if n != len(a.Data) {
		return errors.E(fmt.Sprintf("artifact: shape %v needs %d values, found %d", a.Shape, n, len(a.Data)))
	}
	return nil
}

// FromRows stacks equal-length rows into a 2-D array.  Ragged input is an
// error.
func FromRows(rows [][]float32) (Float32, error) {
	if len(rows) == 0 {
		return Float32{Shape: []int{0, 0}}, nil
	}
	cols := len(rows[0])
	a := Float32{Shape: []int{len(rows), cols}, Data: make([]float32, 0, len(rows)*cols)}
	for i, row := range rows {
		if len(row) != cols {
			return Float32{}, errors.E(fmt.Sprintf("artifact.FromRows: row %d has %d values, row 0 has %d", i, len(row), cols))
		}
		a.Data = append(a.Data, row...)
	}
	return a, nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return nil, errors.E("artifact: empty shape header")
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(p)
		if err != nil || d < 0 {
			return nil, errors.E(fmt.Sprintf("artifact: malformed shape header %q", s))
		}
		shape[i] = d
	}
	return shape, nil
}

func rowsTrailer(nRows int) []byte {
	var buffer bytes.Buffer
	if err := binary.Write(&buffer, binary.LittleEndian, int64(trailerVersion)); err != nil {
		panic("couldn't write trailer version")
	}
	if err := binary.Write(&buffer, binary.LittleEndian, int64(nRows)); err != nil {
		panic("couldn't write nRows to trailer")
	}
	return buffer.Bytes()
}

func parseRowsTrailer(trailer []byte) (int, error) {
	r := bytes.NewReader(trailer)
	var version, nRows int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trailerVersion {
		return 0, errors.E(fmt.Sprintf("artifact: unrecognized trailer version: got %d, want %d", version, trailerVersion))
	}
	if err := binary.Read(r, binary.LittleEndian, &nRows); err != nil {
		return 0, err
	}
	return int(nRows), nil
}

func marshalFloat32Row(scratch []byte, p interface{}) ([]byte, error) {
	row := p.([]float32)
	n := len(row) * 4
	t := scratch
	if cap(t) < n {
		t = make([]byte, n)
	}
	t = t[:n]
	for i, v := range row {
		binary.LittleEndian.PutUint32(t[i*4:], math.Float32bits(v))
	}
	return t, nil
}

func newWriter(out io.Writer, dtype string, shape []int, marshal recordio.MarshalFunc) recordio.Writer {
	// recordiozstd.Init() is called in init().
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshal,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(dtypeHeader, dtype)
	w.AddHeader(shapeHeader, formatShape(shape))
	w.AddHeader(recordio.KeyTrailer, true)
	return w
}

// EncodeFloat32 writes a to out.
func EncodeFloat32(out io.Writer, a Float32) error {
	if err := a.validate(); err != nil {
		return err
	}
	w := newWriter(out, dtypeFloat32, a.Shape, marshalFloat32Row)
	nRows := a.Rows()
	for i := 0; i < nRows; i++ {
		w.Append(a.Row(i))
	}
	w.SetTrailer(rowsTrailer(nRows))
	return w.Finish()
}

// EncodeStrings writes a 1-D string array to out.
func EncodeStrings(out io.Writer, values []string) error {
	w := newWriter(out, dtypeString, []int{len(values)}, nil)
	for _, v := range values {
		w.Append([]byte(v))
	}
	w.SetTrailer(rowsTrailer(len(values)))
	return w.Finish()
}

type header struct {
	dtype string
	shape []int
	nRows int
}

func readHeader(scanner recordio.Scanner, wantDtype string) (h header, err error) {
	// Keys other than ours (transformer, trailer) belong to recordio.
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case dtypeHeader:
			h.dtype, _ = kv.Value.(string)
		case shapeHeader:
			s, _ := kv.Value.(string)
			if h.shape, err = parseShape(s); err != nil {
				return
			}
		}
	}
	if h.dtype != wantDtype {
		err = errors.E(fmt.Sprintf("artifact: dtype %q, want %q", h.dtype, wantDtype))
		return
	}
	if h.shape == nil {
		err = errors.E("artifact: missing shape header")
		return
	}
	n := 1
	for _, d := range h.shape {
		if d > 0 && n > maxElements/d {
			err = errors.E(fmt.Sprintf("artifact: shape %v exceeds %d elements", h.shape, maxElements))
			return
		}
		n *= d
	}
	trailer := scanner.Trailer()
	if len(trailer) == 0 {
		err = errors.E(fmt.Sprintf("artifact: missing trailer: %v", scanner.Err()))
		return
	}
	if h.nRows, err = parseRowsTrailer(trailer); err != nil {
		return
	}
	if h.nRows != h.shape[0] {
		err = errors.E(fmt.Sprintf("artifact: trailer has %d rows, shape %v", h.nRows, h.shape))
	}
	return
}

func prealloc(n int) int {
	if n > maxPrealloc {
		return maxPrealloc
	}
	return n
}

// DecodeFloat32 reads an array written by EncodeFloat32.
func DecodeFloat32(rs io.ReadSeeker) (a Float32, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{})
	defer scanner.Finish() // nolint: errcheck
	var h header
	if h, err = readHeader(scanner, dtypeFloat32); err != nil {
		return
	}
	a.Shape = h.shape
	cols := a.Cols()
	rowBytes := cols * 4
	a.Data = make([]float32, 0, prealloc(h.nRows*cols))
	nRows := 0
	for scanner.Scan() {
		in := scanner.Get().([]byte)
		if len(in) != rowBytes {
			err = errors.E(fmt.Sprintf("artifact: row %d has %d bytes, want %d", nRows, len(in), rowBytes))
			return
		}
		for i := 0; i < rowBytes; i += 4 {
			a.Data = append(a.Data, math.Float32frombits(binary.LittleEndian.Uint32(in[i:])))
		}
		nRows++
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if nRows != h.nRows {
		err = errors.E(fmt.Sprintf("artifact: read %d rows, want %d", nRows, h.nRows))
	}
	return
}

// DecodeStrings reads an array written by EncodeStrings.
func DecodeStrings(rs io.ReadSeeker) (values []string, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{})
	defer scanner.Finish() // nolint: errcheck
	var h header
	if h, err = readHeader(scanner, dtypeString); err != nil {
		return
	}
	if len(h.shape) != 1 {
		err = errors.E(fmt.Sprintf("artifact: string array has shape %v", h.shape))
		return
	}
	values = make([]string, 0, prealloc(h.nRows))
	for scanner.Scan() {
		values = append(values, string(scanner.Get().([]byte)))
	}
	if err = scanner.Err(); err != nil {
		return
	}
	if len(values) != h.nRows {
		err = errors.E(fmt.Sprintf("artifact: read %d strings, want %d", len(values), h.nRows))
	}
	return
}

// WriteFloat32 writes a to path, replacing any existing file.
func WriteFloat32(ctx context.Context, path string, a Float32) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "artifact.WriteFloat32", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = EncodeFloat32(out.Writer(ctx), a); err != nil {
		err = errors.E(err, "artifact.WriteFloat32", path)
	}
	return
}

// ReadFloat32 reads the float32 array at path.
func ReadFloat32(ctx context.Context, path string) (a Float32, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return a, errors.E(err, "artifact.ReadFloat32", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if a, err = DecodeFloat32(in.Reader(ctx)); err != nil {
		err = errors.E(err, "artifact.ReadFloat32", path)
	}
	return
}

// WriteStrings writes a 1-D string array to path.
func WriteStrings(ctx context.Context, path string, values []string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "artifact.WriteStrings", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = EncodeStrings(out.Writer(ctx), values); err != nil {
		err = errors.E(err, "artifact.WriteStrings", path)
	}
	return
}

// ReadStrings reads the string array at path.
func ReadStrings(ctx context.Context, path string) (values []string, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "artifact.ReadStrings", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	if values, err = DecodeStrings(in.Reader(ctx)); err != nil {
		err = errors.E(err, "artifact.ReadStrings", path)
	}
	return
}
