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
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/catmod/encoding/artifact"
	"github.com/grailbio/catmod/feature"
	"github.com/grailbio/catmod/interval"
	"github.com/grailbio/catmod/region"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSites = `chr1	100	200	s1	0	+
chr1	100	200	s2	0	-
chr1	500	501	s3	0	+
chr2	100	200	s4	0	+
`

// recordLine formats a per-read record with widths 5/5/300, the current
// samples split into 60 groups of 5.  Values are derived from v.
func recordLine(chrom string, start, end int, strand byte, v float32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%d\t%d\t.\t.\t%c\t", chrom, start, end, strand)
	for i := 0; i < 5; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v+float32(i))
	}
	b.WriteByte('\t')
	for i := 0; i < 5; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v/2+float32(i))
	}
	b.WriteByte('\t')
	for i := 0; i < 300; i++ {
		switch {
		case i == 0:
		case i%5 == 0:
			b.WriteByte(';')
		default:
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v+float32(i)/4)
	}
	b.WriteByte('\n')
	return b.String()
}

func newTestIndex(t *testing.T) *interval.StrandIndex {
	index, err := interval.NewStrandIndex(strings.NewReader(testSites))
	require.NoError(t, err)
	return index
}

func testRecord(chrom string, start, end interval.PosType, strand byte) *Record {
	return &Record{
		Chrom:     chrom,
		Start:     start,
		End:       end,
		Strand:    strand,
		NormMean:  []float32{1, 2, 3, 4, 5},
		NormStdev: []float32{1, 1, 1, 1, 1},
		Current:   make([]float32, 300),
	}
}

func TestAddOffsetArithmetic(t *testing.T) {
	c := NewCollector(newTestIndex(t), DefaultOpts)
	assert.True(t, c.Add("r1", testRecord("chr1", 98, 202, '+')))
	assert.False(t, c.Add("r2", testRecord("chr1", 100, 200, '+')))
	assert.Equal(t, []string{"chr1_+_200"}, c.Regions())
	assert.Equal(t, []string{"r1"}, c.Reads("chr1_+_200"))

	// Other windows shift both the match and the key.
	opts := DefaultOpts
	opts.Window = region.Window{Start: 0, End: 1}
	c = NewCollector(newTestIndex(t), opts)
	assert.True(t, c.Add("r1", testRecord("chr1", 500, 502, '+')))
	assert.Equal(t, []string{"chr1_+_501"}, c.Regions())
}

func TestAddNoFalsePositives(t *testing.T) {
	c := NewCollector(newTestIndex(t), DefaultOpts)
	for _, rec := range []*Record{
		testRecord("chr1", 98, 203, '+'),
		testRecord("chr1", 99, 202, '+'),
		testRecord("chr1", 97, 202, '+'),
		testRecord("chr1", 98, 202, '.'),
		testRecord("chr3", 98, 202, '+'),
		testRecord("chr2", 98, 202, '-'),
		testRecord("chr1", 120, 180, '+'),
		testRecord("chr1", 0, 1, '+'),
	} {
		assert.False(t, c.Add("r", rec), "%+v", *rec)
	}
	assert.Empty(t, c.Regions())

	assert.True(t, c.Add("a", testRecord("chr1", 98, 202, '-')))
	assert.True(t, c.Add("b", testRecord("chr2", 98, 202, '+')))
	assert.Equal(t, []string{"chr1_-_200", "chr2_+_200"}, c.Regions())
}

func TestAddCopiesVectors(t *testing.T) {
	c := NewCollector(newTestIndex(t), DefaultOpts)
	rec := testRecord("chr1", 98, 202, '+')
	require.True(t, c.Add("r1", rec))
	rec.NormMean[0] = 100
	assert.Equal(t, float32(1), c.regions["chr1_+_200"].normMean[0][0])
}

// writeReadFiles writes one per-read file per element of reads and a list
// naming them.  Every third file is gzipped.
func writeReadFiles(t *testing.T, dir string, reads [][]string) string {
	ctx := vcontext.Background()
	var list strings.Builder
	for i, lines := range reads {
		path := filepath.Join(dir, fmt.Sprintf("read%03d.signal.txt", i))
		if i%3 == 2 {
			path += ".gz"
			out, err := file.Create(ctx, path)
			require.NoError(t, err)
			gz := gzip.NewWriter(out.Writer(ctx))
			_, err = gz.Write([]byte(strings.Join(lines, "")))
			require.NoError(t, err)
			require.NoError(t, gz.Close())
			require.NoError(t, out.Close(ctx))
		} else {
			require.NoError(t, ioutil.WriteFile(path, []byte(strings.Join(lines, "")), 0644))
		}
		list.WriteString(path + "\n")
	}
	listPath := filepath.Join(dir, "reads.list")
	require.NoError(t, ioutil.WriteFile(listPath, []byte(list.String()), 0644))
	return listPath
}

func testReads(n int) [][]string {
	reads := make([][]string, n)
	for i := range reads {
		v := float32(i)
		reads[i] = []string{
			recordLine("chr1", 98, 202, '+', v),
			recordLine("chr1", 100, 200, '+', v),
		}
		if i%2 == 0 {
			reads[i] = append(reads[i], recordLine("chr2", 98, 202, '+', -v))
		}
		if i%7 == 0 {
			reads[i] = append(reads[i], recordLine("chr1", 98, 202, '-', v))
		}
	}
	return reads
}

func TestAddListOrder(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	const nReads = 40
	listPath := writeReadFiles(t, tmpdir, testReads(nReads))

	var want []string
	for i := 0; i < nReads; i++ {
		want = append(want, fmt.Sprintf("read%03d", i))
	}
	var first *Collector
	for _, parallelism := range []int{1, 2, 5} {
		opts := DefaultOpts
		opts.Parallelism = parallelism
		c := NewCollector(newTestIndex(t), opts)
		require.NoError(t, c.AddList(ctx, listPath))
		assert.Equal(t, []string{"chr1_+_200", "chr1_-_200", "chr2_+_200"}, c.Regions())
		assert.Equal(t, want, c.Reads("chr1_+_200"))
		assert.Len(t, c.Reads("chr2_+_200"), nReads/2)
		assert.Equal(t, []string{"read000", "read007", "read014", "read021", "read028", "read035"}, c.Reads("chr1_-_200"))
		assert.Equal(t, nReads, c.stats.Files)
		if first == nil {
			first = c
			continue
		}
		assert.Equal(t, first.regions, c.regions, "parallelism %d", parallelism)
		assert.Equal(t, first.stats, c.stats)
	}
}

func TestAddListErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	reads := testReads(5)
	reads[3] = append(reads[3], "chr1\t98\t202\t.\t.\t+\t1\n")
	listPath := writeReadFiles(t, tmpdir, reads)
	c := NewCollector(newTestIndex(t), DefaultOpts)
	err := c.AddList(ctx, listPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read003")

	c = NewCollector(newTestIndex(t), DefaultOpts)
	assert.Error(t, c.AddList(ctx, filepath.Join(tmpdir, "missing.list")))
	assert.Error(t, c.AddFile(ctx, filepath.Join(tmpdir, "missing.txt")))
}

func TestWrite(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	listPath := writeReadFiles(t, tmpdir, testReads(6))
	for _, flat := range []bool{false, true} {
		opts := DefaultOpts
		opts.OutDir = filepath.Join(tmpdir, fmt.Sprintf("out-%v", flat))
		opts.Flat = flat
		opts.Parallelism = 2
		c := NewCollector(newTestIndex(t), opts)
		require.NoError(t, c.AddList(ctx, listPath))
		stats, err := c.Write(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Files: 6, Records: 6*2 + 3 + 1, Matched: 6 + 3 + 1, Regions: 3}, stats)

		dir := c.Dir("chr1")
		if flat {
			assert.Equal(t, opts.OutDir, dir)
		} else {
			assert.Equal(t, filepath.Join(opts.OutDir, "current_raw_chr1_datasets_base"), dir)
		}
		ids, err := artifact.ReadStrings(ctx, artifact.Path(dir, "chr1_+_200", feature.MetricReadsID))
		require.NoError(t, err)
		assert.Equal(t, c.Reads("chr1_+_200"), ids)

		mean, err := artifact.ReadFloat32(ctx, artifact.Path(dir, "chr1_+_200", feature.MetricNormMean))
		require.NoError(t, err)
		assert.Equal(t, []int{6, 5}, mean.Shape)
		assert.Equal(t, []float32{3, 4, 5, 6, 7}, mean.Row(3))

		cur, err := artifact.ReadFloat32(ctx, artifact.Path(dir, "chr1_+_200", feature.MetricCurrent))
		require.NoError(t, err)
		assert.Equal(t, []int{6, 300}, cur.Shape)
		assert.Equal(t, c.regions["chr1_+_200"].current[5], cur.Row(5))

		if !flat {
			// The loader reads exactly what was written.
			out, err := feature.Load(ctx, opts.OutDir, region.Region{Chrom: "chr2", Strand: '+', Pos: 200}, feature.Current, feature.DefaultContract)
			require.NoError(t, err)
			require.Equal(t, feature.Found, out.Status)
			assert.Equal(t, c.regions["chr2_+_200"].normStdev[1], out.Arrays[1].Row(1))
		}
	}
}

func TestWriteRagged(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	opts := DefaultOpts
	opts.OutDir = tmpdir
	c := NewCollector(newTestIndex(t), opts)
	require.True(t, c.Add("r1", testRecord("chr1", 98, 202, '+')))
	short := testRecord("chr1", 98, 202, '+')
	short.Current = short.Current[:299]
	require.True(t, c.Add("r2", short))
	require.True(t, c.Add("r3", testRecord("chr1", 98, 202, '-')))
	require.True(t, c.Add("r4", testRecord("chr2", 98, 202, '+')))
	stats, err := c.Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Regions)
	assert.Equal(t, 1, stats.Rejected)

	// No artifact of the ragged region is written.
	for _, metric := range append(feature.Current.Metrics(), feature.MetricReadsID) {
		ok, err := artifact.Exists(ctx, artifact.Path(c.Dir("chr1"), "chr1_+_200", metric))
		require.NoError(t, err)
		assert.False(t, ok, metric)
	}

	for _, tt := range []struct {
		r    region.Region
		want feature.Status
	}{
		{region.Region{Chrom: "chr1", Strand: '+', Pos: 200}, feature.Absent},
		{region.Region{Chrom: "chr1", Strand: '-', Pos: 200}, feature.Found},
		{region.Region{Chrom: "chr2", Strand: '+', Pos: 200}, feature.Found},
	} {
		out, err := feature.Load(ctx, tmpdir, tt.r, feature.Current, feature.DefaultContract)
		require.NoError(t, err)
		assert.Equal(t, tt.want, out.Status, tt.r.Key())
	}
}
