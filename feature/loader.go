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
	"fmt"

	"github.com/grailbio/catmod/encoding/artifact"
	"github.com/grailbio/catmod/region"
)

// Status tags the result of loading one region.
type Status int

const (
	// Absent means the region contributes no row: its primary artifact is
	// missing or its arrays violate the shape contract.
	Absent Status = iota
	// Found means every metric array was loaded and passed the contract.
	Found
)

func (s Status) String() string {
	if s == Found {
		return "found"
	}
	return "absent"
}

// Outcome is the result of Load.  Arrays is set only when Status is Found,
// and Reason only when it is Absent.
type Outcome struct {
	Status Status
	Reason string
	Domain Domain
	// Arrays holds one array per metric, in Domain.Metrics() order.
	Arrays []artifact.Float32
}

// Summary reduces a Found outcome to its feature vector.
func (o Outcome) Summary() []float32 {
	return Summarize(o.Domain, o.Arrays)
}

func absent(d Domain, format string, args ...interface{}) Outcome {
	return Outcome{Status: Absent, Domain: d, Reason: fmt.Sprintf(format, args...)}
}

// Load reads the artifacts of region r for domain d from baseDir and checks
// them against c.  A missing primary artifact or a contract violation yields
// an Absent outcome.  Failing to read an artifact that should exist is
// returned as an error.
func Load(ctx context.Context, baseDir string, r region.Region, d Domain, c Contract) (Outcome, error) {
	dir := d.Dir(baseDir, r.Chrom)
	key := r.Key()
	ok, err := artifact.Exists(ctx, artifact.Path(dir, key, d.Primary()))
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return absent(d, "no %s artifact", d.Primary()), nil
	}
	metrics := d.Metrics()
	arrays := make([]artifact.Float32, len(metrics))
	for i, m := range metrics {
		if arrays[i], err = artifact.ReadFloat32(ctx, artifact.Path(dir, key, m)); err != nil {
			return Outcome{}, err
		}
	}
	if reason := checkContract(d, c, arrays); reason != "" {
		return absent(d, "%s", reason), nil
	}
	return Outcome{Status: Found, Domain: d, Arrays: arrays}, nil
}

// checkContract returns a description of the first violation, or "".
func checkContract(d Domain, c Contract, arrays []artifact.Float32) string {
	switch d {
	case Current:
		mean, stdev, cur := arrays[0], arrays[1], arrays[2]
		if mean.NDim() != 2 || stdev.NDim() != 2 || cur.NDim() != 2 {
			return fmt.Sprintf("want 2-D arrays, got shapes %v %v %v", mean.Shape, stdev.Shape, cur.Shape)
		}
		n := mean.Rows()
		if n == 0 || stdev.Rows() != n || cur.Rows() != n {
			return fmt.Sprintf("read counts %d %d %d", n, stdev.Rows(), cur.Rows())
		}
		if mean.Cols() != c.MeanWidth || stdev.Cols() != c.StdevWidth || cur.Cols() != c.CurrentWidth {
			return fmt.Sprintf("widths %d %d %d, want %d %d %d",
				mean.Cols(), stdev.Cols(), cur.Cols(), c.MeanWidth, c.StdevWidth, c.CurrentWidth)
		}
	case Alignment:
		aln, qual := arrays[0], arrays[1]
		if aln.NDim() != 3 || qual.NDim() != 2 {
			return fmt.Sprintf("want 3-D alignment and 2-D quality, got shapes %v %v", aln.Shape, qual.Shape)
		}
		n := aln.Rows()
		if n == 0 || qual.Rows() != n {
			return fmt.Sprintf("read counts %d %d", n, qual.Rows())
		}
		if aln.Shape[1] != qual.Shape[1] {
			return fmt.Sprintf("alignment length %d, quality length %d", aln.Shape[1], qual.Shape[1])
		}
		if aln.Shape[2] != c.AlignmentDepth {
			return fmt.Sprintf("alignment depth %d, want %d", aln.Shape[2], c.AlignmentDepth)
		}
	}
	return ""
}
