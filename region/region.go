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

// Package region defines the canonical region key shared by the signal
// collector and the feature aggregator.
//
// A key has the form {chrom}_{strand}_{pos}, e.g. "chr1_+_200".  Keys name
// on-disk artifacts and label feature-matrix rows.  The position is the
// interval end as written in the interval list; the collector recovers it
// from a per-read record through a Window.
package region

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Region identifies a (chromosome, strand, anchor position) triple.
type Region struct {
	Chrom  string
	Strand byte
	Pos    int
}

// ValidStrand reports whether b is one of '+', '-', '.'.
func ValidStrand(b byte) bool {
	return b == '+' || b == '-' || b == '.'
}

// Key returns the canonical key for the given triple.
func Key(chrom string, strand byte, pos int) string {
	var sb strings.Builder
	sb.Grow(len(chrom) + 16)
	sb.WriteString(chrom)
	sb.WriteByte('_')
	sb.WriteByte(strand)
	sb.WriteByte('_')
	sb.WriteString(strconv.Itoa(pos))
	return sb.String()
}

// Key returns the canonical key for r.
func (r Region) Key() string {
	return Key(r.Chrom, r.Strand, r.Pos)
}

func (r Region) String() string {
	return r.Key()
}

// ParseKey inverts Key.  Chromosome names may themselves contain '_', so the
// key is split from the right.
func ParseKey(key string) (r Region, err error) {
	posSep := strings.LastIndexByte(key, '_')
	if posSep < 2 || key[posSep-2] != '_' {
		err = errors.Errorf("region.ParseKey: malformed key %q", key)
		return
	}
	r.Strand = key[posSep-1]
	if !ValidStrand(r.Strand) {
		err = errors.Errorf("region.ParseKey: invalid strand %q in key %q", r.Strand, key)
		return
	}
	r.Chrom = key[:posSep-2]
	if r.Chrom == "" {
		err = errors.Errorf("region.ParseKey: empty chromosome in key %q", key)
		return
	}
	if r.Pos, err = strconv.Atoi(key[posSep+1:]); err != nil {
		err = errors.Wrapf(err, "region.ParseKey: key %q", key)
	}
	return
}

// Window is the flanking-context correction applied to per-read record
// coordinates before they are compared with interval-list entries.  A record
// spanning [start, end) corresponds to the interval [start+Start, end-End).
type Window struct {
	Start int
	End   int
}

// DefaultWindow matches the two-base flank emitted by the upstream
// current-extraction stage.
var DefaultWindow = Window{Start: 2, End: 2}

// Interval maps record coordinates to interval-list coordinates.
func (w Window) Interval(recStart, recEnd int) (start, end int) {
	return recStart + w.Start, recEnd - w.End
}

// Anchor maps a record end to the key position.
func (w Window) Anchor(recEnd int) int {
	return recEnd - w.End
}
