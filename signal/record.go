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

package signal

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/catmod/interval"
	"github.com/grailbio/catmod/region"
	"github.com/pkg/errors"
)

// NumFields is the minimum number of columns of a per-read record.
const NumFields = 9

const (
	colChrom     = 0
	colStart     = 1
	colEnd       = 2
	colStrand    = 5
	colNormMean  = 6
	colNormStdev = 7
	colCurrent   = 8
)

// Per-read lines carry several hundred current samples.
const maxLineBytes = 16 << 20

// Record is one line of a per-read file.
type Record struct {
	Chrom     string
	Start     interval.PosType
	End       interval.PosType
	Strand    byte
	NormMean  []float32
	NormStdev []float32
	// Current holds the raw current samples of all bases, flattened in order.
	Current []float32
}

// RecordScanner reads Records from a per-read file.  Scanning stops at the
// first malformed line.
//
// The Record returned by Record is reused by the next call to Scan.
type RecordScanner struct {
	b      *bufio.Scanner
	path   string
	line   int
	err    error
	rec    Record
	tokens [NumFields][]byte
	// chroms interns chromosome names; a file only names a few.
	chroms map[string]string
}

// NewRecordScanner creates a RecordScanner reading from r.  path is used only
// in error messages.
func NewRecordScanner(r io.Reader, path string) *RecordScanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 64<<10), maxLineBytes)
	return &RecordScanner{b: b, path: path, chroms: make(map[string]string)}
}

// Scan advances to the next record.  It returns false at EOF or on error.
func (s *RecordScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	for s.b.Scan() {
		s.line++
		nToken := interval.Fields(s.tokens[:], s.b.Bytes())
		if nToken == 0 {
			continue
		}
		if nToken != NumFields {
			s.err = errors.Errorf("%s:%d: %d fields, expected at least %d", s.path, s.line, nToken, NumFields)
			return false
		}
		if err := s.parse(); err != nil {
			s.err = errors.Wrapf(err, "%s:%d", s.path, s.line)
			return false
		}
		return true
	}
	s.err = s.b.Err()
	return false
}

func (s *RecordScanner) parse() (err error) {
	rec := &s.rec
	chrom, ok := s.chroms[gunsafe.BytesToString(s.tokens[colChrom])]
	if !ok {
		chrom = string(s.tokens[colChrom])
		s.chroms[chrom] = chrom
	}
	rec.Chrom = chrom
	if rec.Start, err = interval.ParsePos(s.tokens[colStart]); err != nil {
		return errors.Wrap(err, "start")
	}
	if rec.End, err = interval.ParsePos(s.tokens[colEnd]); err != nil {
		return errors.Wrap(err, "end")
	}
	strand := s.tokens[colStrand]
	if len(strand) != 1 || !region.ValidStrand(strand[0]) {
		return errors.Errorf("invalid strand %q", strand)
	}
	rec.Strand = strand[0]
	if rec.NormMean, err = appendFloats(rec.NormMean[:0], s.tokens[colNormMean], ','); err != nil {
		return errors.Wrap(err, "normalized mean")
	}
	if rec.NormStdev, err = appendFloats(rec.NormStdev[:0], s.tokens[colNormStdev], ','); err != nil {
		return errors.Wrap(err, "normalized stdev")
	}
	rec.Current = rec.Current[:0]
	groups := s.tokens[colCurrent]
	for {
		sep := bytes.IndexByte(groups, ';')
		if sep < 0 {
			break
		}
		if rec.Current, err = appendFloats(rec.Current, groups[:sep], ','); err != nil {
			return errors.Wrap(err, "current")
		}
		groups = groups[sep+1:]
	}
	if rec.Current, err = appendFloats(rec.Current, groups, ','); err != nil {
		return errors.Wrap(err, "current")
	}
	return nil
}

// appendFloats parses the sep-separated values of list and appends them to
// dst.  Empty values are an error.
func appendFloats(dst []float32, list []byte, sep byte) ([]float32, error) {
	for {
		end := bytes.IndexByte(list, sep)
		if end < 0 {
			end = len(list)
		}
		v, err := strconv.ParseFloat(gunsafe.BytesToString(list[:end]), 32)
		if err != nil {
			// err aliases the line buffer.
			return dst, errors.Errorf("invalid value %q", list[:end])
		}
		dst = append(dst, float32(v))
		if end == len(list) {
			return dst, nil
		}
		list = list[end+1:]
	}
}

// Record returns the most recently scanned record.
func (s *RecordScanner) Record() *Record {
	return &s.rec
}

// Err returns the scanning error, if any.
func (s *RecordScanner) Err() error {
	return s.err
}
