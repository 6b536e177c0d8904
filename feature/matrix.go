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

package feature

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/catmod/encoding/artifact"
	"github.com/grailbio/catmod/region"
	"github.com/klauspost/compress/gzip"
)

// Matrix is a feature matrix: one row per region, all rows of equal width.
// Names[i] is the region key of Rows[i].
type Matrix struct {
	Names []string
	Rows  [][]float32
}

// Width returns the number of features per row, or 0 for an empty matrix.
func (m *Matrix) Width() int {
	if len(m.Rows) == 0 {
		return 0
	}
	return len(m.Rows[0])
}

// MatrixPath returns the path of the values artifact of matrix name.
func MatrixPath(outDir, name string) string {
	return filepath.Join(outDir, name+artifact.Ext)
}

// NamesPath returns the path of the row-name artifact of matrix name.
func NamesPath(outDir, name string) string {
	return filepath.Join(outDir, name+"_names"+artifact.Ext)
}

// Write stores m as {outDir}/{name}.rio (rows x width float32) and
// {outDir}/{name}_names.rio (row names).  outDir is created if needed.
func (m *Matrix) Write(ctx context.Context, outDir, name string) error {
	if len(m.Names) != len(m.Rows) {
		return errors.E(fmt.Sprintf("feature.Matrix.Write: %d names, %d rows", len(m.Names), len(m.Rows)))
	}
	values, err := artifact.FromRows(m.Rows)
	if err != nil {
		return err
	}
	if err = artifact.MkdirAll(outDir); err != nil {
		return errors.E(err, "feature.Matrix.Write", outDir)
	}
	if err = artifact.WriteFloat32(ctx, MatrixPath(outDir, name), values); err != nil {
		return err
	}
	return artifact.WriteStrings(ctx, NamesPath(outDir, name), m.Names)
}

// ReadMatrix reads a matrix written by Matrix.Write.
func ReadMatrix(ctx context.Context, outDir, name string) (*Matrix, error) {
	values, err := artifact.ReadFloat32(ctx, MatrixPath(outDir, name))
	if err != nil {
		return nil, err
	}
	names, err := artifact.ReadStrings(ctx, NamesPath(outDir, name))
	if err != nil {
		return nil, err
	}
	if values.NDim() != 2 || values.Rows() != len(names) {
		return nil, errors.E(fmt.Sprintf("feature.ReadMatrix: shape %v with %d names", values.Shape, len(names)))
	}
	m := &Matrix{Names: names, Rows: make([][]float32, len(names))}
	for i := range m.Rows {
		m.Rows[i] = values.Row(i)
	}
	return m, nil
}

// Checksum returns a fingerprint of the set of (name, row) pairs.  Row order
// does not affect it.
func (m *Matrix) Checksum() uint64 {
	var (
		sum uint64
		buf []byte
	)
	for i, name := range m.Names {
		buf = append(buf[:0], name...)
		buf = append(buf, 0)
		for _, v := range m.Rows[i] {
			buf = append(buf, 0, 0, 0, 0)
			binary.LittleEndian.PutUint32(buf[len(buf)-4:], math.Float32bits(v))
		}
		sum += farm.Hash64(buf)
	}
	return sum
}

// WriteTSV writes m as text, one line per row: the region's chromosome,
// strand, position and key followed by its features.  Output is gzipped if path
// ends in .gz.
func (m *Matrix) WriteTSV(ctx context.Context, path string) (err error) {
	var dst file.File
	if dst, err = file.Create(ctx, path); err != nil {
		return
	}
	defer file.CloseAndReport(ctx, dst, &err)
	out := io.Writer(dst.Writer(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz := gzip.NewWriter(out)
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		out = gz
	}
	w := tsv.NewWriter(out)
	w.WriteString("#CHROM\tSTRAND\tPOS\tNAME")
	for j := 0; j < m.Width(); j++ {
		w.WriteString("F" + strconv.Itoa(j))
	}
	if err = w.EndLine(); err != nil {
		return
	}
	for i, name := range m.Names {
		var r region.Region
		if r, err = region.ParseKey(name); err != nil {
			return
		}
		w.WriteString(r.Chrom)
		w.WriteByte(r.Strand)
		w.WriteUint32(uint32(r.Pos))
		w.WriteString(name)
		for _, v := range m.Rows[i] {
			w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err = w.EndLine(); err != nil {
			return
		}
	}
	return w.Flush()
}
