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
	"github.com/grailbio/catmod/encoding/artifact"
)

// ColumnMeans returns the mean of each column of a, viewed as a 2-D array
// with one row per leading index.  Sums are accumulated in float64.  a must
// have at least one row.
func ColumnMeans(a artifact.Float32) []float32 {
	nRows, nCols := a.Rows(), a.Cols()
	sums := make([]float64, nCols)
	for i := 0; i < nRows; i++ {
		for j, v := range a.Row(i) {
			sums[j] += float64(v)
		}
	}
	means := make([]float32, nCols)
	for j, s := range sums {
		means[j] = float32(s / float64(nRows))
	}
	return means
}

// Summarize reduces a domain's metric arrays to one feature vector.  Sequence
// arrays are flattened; every other domain concatenates the per-metric column
// means in metric order.
func Summarize(d Domain, arrays []artifact.Float32) []float32 {
	if d == Sequence {
		var v []float32
		for _, a := range arrays {
			v = append(v, a.Data...)
		}
		return v
	}
	width := 0
	for _, a := range arrays {
		width += a.Cols()
	}
	v := make([]float32, 0, width)
	for _, a := range arrays {
		v = append(v, ColumnMeans(a)...)
	}
	return v
}
