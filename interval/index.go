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

package interval

import (
	"context"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/catmod/util"
	"github.com/pkg/errors"
)

type span struct {
	start, end PosType
}

// StrandIndex maps chromosome -> strand -> set of (start, end) pairs.  It is
// immutable once built, so concurrent Contains calls are safe.
type StrandIndex struct {
	chroms map[string]map[byte]map[span]struct{}
	n      int
}

func newStrandIndex() *StrandIndex {
	return &StrandIndex{chroms: make(map[string]map[byte]map[span]struct{})}
}

func (x *StrandIndex) add(e Entry) {
	strands := x.chroms[e.ChrName]
	if strands == nil {
		strands = make(map[byte]map[span]struct{}, 2)
		x.chroms[e.ChrName] = strands
	}
	spans := strands[e.Strand]
	if spans == nil {
		spans = make(map[span]struct{})
		strands[e.Strand] = spans
	}
	key := span{e.Start0, e.End}
	if _, found := spans[key]; !found {
		spans[key] = struct{}{}
		x.n++
	}
}

// Contains reports whether [start, end) on chrom/strand is exactly one of the
// indexed intervals.  Overlap is not enough.
func (x *StrandIndex) Contains(chrom string, strand byte, start, end PosType) bool {
	spans := x.chroms[chrom][strand]
	if spans == nil {
		return false
	}
	_, found := spans[span{start, end}]
	return found
}

// Len returns the number of distinct indexed intervals.
func (x *StrandIndex) Len() int {
	return x.n
}

// NewStrandIndexFromEntries indexes the given entries.  Duplicates are
// absorbed.
func NewStrandIndexFromEntries(entries []Entry) *StrandIndex {
	x := newStrandIndex()
	for _, e := range entries {
		x.add(e)
	}
	return x
}

// NewStrandIndex reads an interval list from reader.  Any malformed line
// aborts the build; no partial index is returned.
func NewStrandIndex(reader io.Reader) (*StrandIndex, error) {
	x := newStrandIndex()
	s := NewScanner(reader)
	nLine := 0
	for s.Scan() {
		x.add(s.Entry())
		nLine++
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	log.Printf("interval index loaded, %d line(s), %d distinct interval(s)", nLine, x.n)
	return x, nil
}

// NewStrandIndexFromPath is a wrapper for NewStrandIndex that takes a path
// instead of an io.Reader.  Gzipped input is detected by file name.
func NewStrandIndexFromPath(ctx context.Context, path string) (x *StrandIndex, err error) {
	err = util.WithReader(ctx, path, func(r io.Reader) (e error) {
		x, e = NewStrandIndex(r)
		return
	})
	if err != nil {
		return nil, errors.Wrapf(err, "interval.NewStrandIndexFromPath %s", path)
	}
	return
}
