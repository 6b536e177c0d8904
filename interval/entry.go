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
	"bufio"
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/catmod/region"
	"github.com/grailbio/catmod/util"
	"github.com/pkg/errors"
)

// PosType is the coordinate type used by interval lists.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// NumFields is the minimum number of columns in an interval-list line:
// chrom, start, end, name, score, strand.
const NumFields = 6

// Fields identifies up to the first len(tokens) tokens of line, returning the
// number of tokens saved.  Any (group of) bytes <= ' ' is a delimiter, so both
// tab- and space-separated input is accepted.  The saved tokens alias line.
func Fields(tokens [][]byte, line []byte) int {
	posEnd := 0
	lineLen := len(line)
	for tokenIdx := range tokens {
		// Simple loops beat the strings/bytes split functions here, and do not
		// allocate.
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if line[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if line[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = line[pos:posEnd]
	}
	return len(tokens)
}

// ParsePos parses a non-negative coordinate token.
func ParsePos(token []byte) (PosType, error) {
	v, err := strconv.ParseInt(gunsafe.BytesToString(token), 10, 32)
	if err != nil {
		// err aliases token.
		return 0, errors.Errorf("invalid coordinate %q", token)
	}
	if v < 0 {
		return 0, errors.Errorf("negative coordinate %s", token)
	}
	return PosType(v), nil
}

// Entry is a single interval-list record, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
	Name    string
	Score   string
	Strand  byte
}

// Region returns the region an Entry is aggregated under.  The anchor is the
// end coordinate.
func (e Entry) Region() region.Region {
	return region.Region{Chrom: e.ChrName, Strand: e.Strand, Pos: int(e.End)}
}

// Key returns region.Key for the entry's region.
func (e Entry) Key() string {
	return region.Key(e.ChrName, e.Strand, int(e.End))
}

// Covers reports whether other lies within e on the same chromosome.  Strand
// is ignored.
func (e Entry) Covers(other Entry) bool {
	return e.ChrName == other.ChrName && other.Start0 >= e.Start0 && other.End <= e.End
}

// Scanner reads Entries from an interval list.  Blank lines and lines
// starting with '#' are skipped.  Scanning stops at the first malformed line;
// Err then reports it with its line number.
type Scanner struct {
	b      *bufio.Scanner
	err    error
	line   int
	entry  Entry
	tokens [NumFields][]byte
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{b: bufio.NewScanner(r)}
}

// Scan advances to the next entry.  It returns false at EOF or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	for s.b.Scan() {
		s.line++
		curLine := s.b.Bytes()
		if len(curLine) > 0 && curLine[0] == '#' {
			continue
		}
		nToken := Fields(s.tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if nToken != NumFields {
			s.err = errors.Errorf("interval.Scanner: line %d has %d fields, expected at least %d", s.line, nToken, NumFields)
			return false
		}
		if s.err = s.parse(); s.err != nil {
			return false
		}
		return true
	}
	s.err = s.b.Err()
	return false
}

func (s *Scanner) parse() (err error) {
	e := &s.entry
	if e.Start0, err = ParsePos(s.tokens[1]); err != nil {
		return errors.Wrapf(err, "interval.Scanner: line %d: start", s.line)
	}
	if e.End, err = ParsePos(s.tokens[2]); err != nil {
		return errors.Wrapf(err, "interval.Scanner: line %d: end", s.line)
	}
	if e.End < e.Start0 {
		return errors.Errorf("interval.Scanner: line %d: invalid coordinate pair [%d, %d)", s.line, e.Start0, e.End)
	}
	strand := s.tokens[5]
	if len(strand) != 1 || !region.ValidStrand(strand[0]) {
		return errors.Errorf("interval.Scanner: line %d: invalid strand %q", s.line, strand)
	}
	e.Strand = strand[0]
	// The tokens alias the scanner buffer, so anything retained needs a copy.
	e.ChrName = string(s.tokens[0])
	e.Name = string(s.tokens[3])
	e.Score = string(s.tokens[4])
	return nil
}

// Entry returns the most recently scanned entry.
func (s *Scanner) Entry() Entry {
	return s.entry
}

// Line returns the 1-based number of the most recently read line.
func (s *Scanner) Line() int {
	return s.line
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error {
	return s.err
}

// ReadEntries reads every entry of the interval list at path, in file order.
func ReadEntries(ctx context.Context, path string) (entries []Entry, err error) {
	err = util.WithReader(ctx, path, func(r io.Reader) error {
		s := NewScanner(r)
		for s.Scan() {
			entries = append(entries, s.Entry())
		}
		return s.Err()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "interval.ReadEntries %s", path)
	}
	return
}

// ParseRegionString parses a region string of one of the forms
//
//	[contig ID]:[1-based first pos]-[last pos]
//	[contig ID]:[1-based pos]
//	[contig ID]
//
// returning an Entry with 0-based interval boundaries and strand '.'.  The
// interval [0, PosTypeMax - 1) is returned if there is no positional
// restriction.
func ParseRegionString(regionStr string) (result Entry, err error) {
	result.Strand = '.'
	if len(regionStr) == 0 {
		err = errors.New("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.IndexByte(regionStr, ':')
	if colonPos == -1 {
		result.ChrName = regionStr
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = errors.New("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = regionStr[:colonPos]
	rangeStr := regionStr[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = errors.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= PosTypeMax {
		err = errors.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}
