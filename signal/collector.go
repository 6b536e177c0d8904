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
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/catmod/encoding/artifact"
	"github.com/grailbio/catmod/feature"
	"github.com/grailbio/catmod/interval"
	"github.com/grailbio/catmod/region"
	"github.com/grailbio/catmod/util"
	"github.com/pkg/errors"
)

// Opts configures a Collector.
type Opts struct {
	// OutDir is the base output directory.
	OutDir string
	// Flat writes every region's artifacts directly into OutDir instead of
	// the per-chromosome current-domain directories below it.
	Flat bool
	// Window is the flank included in per-read record coordinates.
	Window region.Window
	// Parallelism bounds the number of files parsed, and regions written,
	// concurrently.
	Parallelism int
}

// DefaultOpts is the default Collector configuration.
var DefaultOpts = Opts{
	Window:      region.DefaultWindow,
	Parallelism: 8,
}

// Files parsed per worker between merges in AddList.
const filesPerJob = 16

// Stats summarizes a collection run.
type Stats struct {
	Files   int
	Records int
	Matched int
	Regions int
	// Rejected is the number of regions not written because their reads
	// disagree on a vector width.
	Rejected int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d file(s), %d record(s), %d matched, %d region(s), %d rejected",
		s.Files, s.Records, s.Matched, s.Regions, s.Rejected)
}

type regionReads struct {
	chrom     string
	ids       []string
	normMean  [][]float32
	normStdev [][]float32
	current   [][]float32
}

// match is a record that passed the index, with its vectors copied out of
// the scanner.
type match struct {
	key                          string
	chrom                        string
	normMean, normStdev, current []float32
}

// fileMatches holds the matching records of one per-read file.
type fileMatches struct {
	readID  string
	records int
	matches []match
}

// Collector accumulates per-read records by region.  A Collector is not
// safe for concurrent use, but AddList parses files in parallel internally.
type Collector struct {
	index   *interval.StrandIndex
	opts    Opts
	regions map[string]*regionReads
	stats   Stats
}

// NewCollector creates a Collector filtering records through index.
func NewCollector(index *interval.StrandIndex, opts Opts) *Collector {
	return &Collector{
		index:   index,
		opts:    opts,
		regions: make(map[string]*regionReads),
	}
}

// ReadID derives a read id from the path of its per-read file: the base name
// up to the first '.'.
func ReadID(path string) string {
	base := path[strings.LastIndexByte(path, '/')+1:]
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	return base
}

// key returns the region key of rec if its flank-corrected interval is in
// the index.
func (c *Collector) key(rec *Record) (string, bool) {
	start, end := c.opts.Window.Interval(int(rec.Start), int(rec.End))
	if start < 0 || end < start || end > interval.PosTypeMax {
		return "", false
	}
	if !c.index.Contains(rec.Chrom, rec.Strand, interval.PosType(start), interval.PosType(end)) {
		return "", false
	}
	return region.Key(rec.Chrom, rec.Strand, c.opts.Window.Anchor(int(rec.End))), true
}

func copyFloats(v []float32) []float32 {
	return append(make([]float32, 0, len(v)), v...)
}

func newMatch(key string, rec *Record) match {
	return match{
		key:       key,
		chrom:     rec.Chrom,
		normMean:  copyFloats(rec.NormMean),
		normStdev: copyFloats(rec.NormStdev),
		current:   copyFloats(rec.Current),
	}
}

func (c *Collector) append(readID string, m match) {
	rr := c.regions[m.key]
	if rr == nil {
		rr = &regionReads{chrom: m.chrom}
		c.regions[m.key] = rr
	}
	rr.ids = append(rr.ids, readID)
	rr.normMean = append(rr.normMean, m.normMean)
	rr.normStdev = append(rr.normStdev, m.normStdev)
	rr.current = append(rr.current, m.current)
	c.stats.Matched++
}

// Add files rec under its region if it matches the index, and reports
// whether it did.  rec is not retained.
func (c *Collector) Add(readID string, rec *Record) bool {
	c.stats.Records++
	key, ok := c.key(rec)
	if !ok {
		return false
	}
	c.append(readID, newMatch(key, rec))
	return true
}

// scan reads one per-read file.  It only reads c's index and options, so
// several may run concurrently.
func (c *Collector) scan(ctx context.Context, path string) (*fileMatches, error) {
	fm := &fileMatches{readID: ReadID(path)}
	err := util.WithReader(ctx, path, func(r io.Reader) error {
		s := NewRecordScanner(r, path)
		for s.Scan() {
			fm.records++
			rec := s.Record()
			key, ok := c.key(rec)
			if !ok {
				continue
			}
			fm.matches = append(fm.matches, newMatch(key, rec))
		}
		return s.Err()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "signal: reading %s", path)
	}
	return fm, nil
}

func (c *Collector) merge(fm *fileMatches) {
	c.stats.Files++
	c.stats.Records += fm.records
	for _, m := range fm.matches {
		c.append(fm.readID, m)
	}
}

// AddFile adds every record of the per-read file at path.
func (c *Collector) AddFile(ctx context.Context, path string) error {
	fm, err := c.scan(ctx, path)
	if err != nil {
		return err
	}
	c.merge(fm)
	return nil
}

// AddList adds the per-read files named in the list at listPath, one path
// per line.  Files are parsed concurrently but merged in list order, so the
// result is the same as calling AddFile on each in turn.
func (c *Collector) AddList(ctx context.Context, listPath string) error {
	paths, err := util.ReadLines(ctx, listPath)
	if err != nil {
		return errors.Wrapf(err, "signal: reading list %s", listPath)
	}
	return c.addFiles(ctx, paths)
}

func (c *Collector) addFiles(ctx context.Context, paths []string) error {
	parallelism := c.opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	chunkSize := parallelism * filesPerJob
	batch := make([]*fileMatches, chunkSize)
	for chunkStart := 0; chunkStart < len(paths); chunkStart += chunkSize {
		chunk := paths[chunkStart:]
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		nJob := parallelism
		if nJob > len(chunk) {
			nJob = len(chunk)
		}
		err := traverse.Limit(nJob).Each(nJob, func(jobIdx int) error {
			startIdx := jobIdx * len(chunk) / nJob
			endIdx := (jobIdx + 1) * len(chunk) / nJob
			for i := startIdx; i < endIdx; i++ {
				fm, err := c.scan(ctx, chunk[i])
				if err != nil {
					return err
				}
				batch[i] = fm
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range chunk {
			c.merge(batch[i])
			batch[i] = nil
		}
		log.Printf("signal: %d/%d file(s) scanned, %d record(s) matched", chunkStart+len(chunk), len(paths), c.stats.Matched)
	}
	return nil
}

// Regions returns the keys of the regions with at least one record, in
// sorted order.
func (c *Collector) Regions() []string {
	keys := make([]string, 0, len(c.regions))
	for k := range c.regions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reads returns the read ids filed under key, in arrival order.
func (c *Collector) Reads(key string) []string {
	if rr := c.regions[key]; rr != nil {
		return rr.ids
	}
	return nil
}

// Dir returns the directory the artifacts of chrom are written to.
func (c *Collector) Dir(chrom string) string {
	if c.opts.Flat {
		return c.opts.OutDir
	}
	return feature.Current.Dir(c.opts.OutDir, chrom)
}

// Write persists the artifacts of every collected region.  The reads_id
// artifact is written last, so its presence implies the other three are
// complete.  A region whose reads disagree on a vector width is skipped
// entirely and counted in Stats.Rejected.
func (c *Collector) Write(ctx context.Context) (Stats, error) {
	keys := c.Regions()
	c.stats.Regions = len(keys)
	dirs := make(map[string]bool)
	for _, k := range keys {
		dir := c.Dir(c.regions[k].chrom)
		if !dirs[dir] {
			if err := artifact.MkdirAll(dir); err != nil {
				return c.stats, errors.Wrapf(err, "signal: creating %s", dir)
			}
			dirs[dir] = true
		}
	}
	parallelism := c.opts.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	if parallelism > len(keys) {
		parallelism = len(keys)
	}
	log.Printf("signal: writing %d region(s) to %s", len(keys), c.opts.OutDir)
	rejected := make([]bool, len(keys))
	if parallelism > 0 {
		err := traverse.Limit(parallelism).Each(parallelism, func(jobIdx int) error {
			startIdx := jobIdx * len(keys) / parallelism
			endIdx := (jobIdx + 1) * len(keys) / parallelism
			for i := startIdx; i < endIdx; i++ {
				ok, err := c.writeRegion(ctx, keys[i], c.regions[keys[i]])
				if err != nil {
					return err
				}
				rejected[i] = !ok
			}
			return nil
		})
		if err != nil {
			return c.stats, err
		}
	}
	c.stats.Rejected = 0
	for _, r := range rejected {
		if r {
			c.stats.Rejected++
		}
	}
	log.Printf("signal: done, %v", c.stats)
	return c.stats, nil
}

// writeRegion writes the artifacts of one region.  It returns false, and
// writes nothing, if the region's reads disagree on a vector width.
func (c *Collector) writeRegion(ctx context.Context, key string, rr *regionReads) (bool, error) {
	metrics := []struct {
		name string
		rows [][]float32
	}{
		{feature.MetricNormMean, rr.normMean},
		{feature.MetricNormStdev, rr.normStdev},
		{feature.MetricCurrent, rr.current},
	}
	arrays := make([]artifact.Float32, len(metrics))
	for i, metric := range metrics {
		a, err := artifact.FromRows(metric.rows)
		if err != nil {
			log.Debug.Printf("signal: skipping region %s: %s: %v", key, metric.name, err)
			return false, nil
		}
		arrays[i] = a
	}
	dir := c.Dir(rr.chrom)
	for i, metric := range metrics {
		if err := artifact.WriteFloat32(ctx, artifact.Path(dir, key, metric.name), arrays[i]); err != nil {
			return false, err
		}
	}
	return true, artifact.WriteStrings(ctx, artifact.Path(dir, key, feature.MetricReadsID), rr.ids)
}

// Collect builds the index from the interval list at indexPath, adds every
// per-read file named in the list at listPath, and writes the result.
func Collect(ctx context.Context, indexPath, listPath string, opts Opts) (Stats, error) {
	index, err := interval.NewStrandIndexFromPath(ctx, indexPath)
	if err != nil {
		return Stats{}, err
	}
	c := NewCollector(index, opts)
	if err = c.AddList(ctx, listPath); err != nil {
		return c.stats, err
	}
	return c.Write(ctx)
}
