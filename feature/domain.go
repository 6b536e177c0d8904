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
	"fmt"
	"path/filepath"
	"strings"
)

// Domain identifies one family of per-region artifacts.
type Domain int

const (
	// Sequence holds one encoded reference-sequence array per region.
	Sequence Domain = iota
	// Current holds per-read normalized signal statistics and raw current
	// samples.
	Current
	// Alignment holds per-read alignment encodings and base qualities.
	Alignment
)

// Artifact metric names.  The file for metric m of region key k is
// {k}.{m}.rio.
const (
	MetricRefSeq    = "ref_seq"
	MetricReadsID   = "reads_id"
	MetricNormMean  = "reads_norm_mean"
	MetricNormStdev = "reads_norm_stdev"
	MetricCurrent   = "reads_current"
	MetricAlignment = "reads_alignment"
	MetricQuality   = "reads_quality"
)

var domainNames = [...]string{"sequence", "current", "alignment"}

// ParseDomain returns the Domain with the given name.
func ParseDomain(name string) (Domain, error) {
	for i, n := range domainNames {
		if strings.EqualFold(name, n) {
			return Domain(i), nil
		}
	}
	return 0, fmt.Errorf("feature.ParseDomain: unknown domain %q, must be one of %s", name, strings.Join(domainNames[:], ", "))
}

func (d Domain) String() string {
	if d < 0 || int(d) >= len(domainNames) {
		return fmt.Sprintf("Domain(%d)", int(d))
	}
	return domainNames[d]
}

// Dir returns the dataset directory holding chrom's artifacts for d.
func (d Domain) Dir(baseDir, chrom string) string {
	var name string
	switch d {
	case Sequence:
		name = "sequence_raw_" + chrom + "_datasets"
	case Current:
		name = "current_raw_" + chrom + "_datasets_base"
	case Alignment:
		name = "alignment_raw_" + chrom + "_datasets"
	default:
		panic(d)
	}
	return filepath.Join(baseDir, name)
}

// Primary returns the metric whose presence marks a region as present.
func (d Domain) Primary() string {
	if d == Sequence {
		return MetricRefSeq
	}
	return MetricReadsID
}

// Metrics returns the float32 metrics loaded for d, in summary order.
func (d Domain) Metrics() []string {
	switch d {
	case Sequence:
		return []string{MetricRefSeq}
	case Current:
		return []string{MetricNormMean, MetricNormStdev, MetricCurrent}
	case Alignment:
		return []string{MetricAlignment, MetricQuality}
	}
	panic(d)
}

// Contract holds the expected array widths.  A region whose arrays deviate
// is Absent.
type Contract struct {
	// MeanWidth, StdevWidth and CurrentWidth are the column counts of the
	// current domain's three per-read arrays.
	MeanWidth    int
	StdevWidth   int
	CurrentWidth int
	// AlignmentDepth is the size of the last alignment dimension.
	AlignmentDepth int
}

// DefaultContract matches the arrays written by the raw-data extraction
// steps.
var DefaultContract = Contract{
	MeanWidth:      5,
	StdevWidth:     5,
	CurrentWidth:   300,
	AlignmentDepth: 6,
}
