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
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/catmod/encoding/artifact"
	"github.com/grailbio/catmod/interval"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(chrom string, start, end interval.PosType, strand byte) interval.Entry {
	return interval.Entry{ChrName: chrom, Start0: start, End: end, Name: ".", Score: ".", Strand: strand}
}

// setupCurrent writes current-domain artifacts for every entry whose index
// is in present, with the region's position folded into the values so rows
// are distinguishable.
func setupCurrent(ctx context.Context, t *testing.T, baseDir string, entries []interval.Entry, present ...int) {
	for _, i := range present {
		e := entries[i]
		n := 2 + i
		arrays := map[string]artifact.Float32{
			MetricNormMean:  seqArray(float32(e.End), n, 5),
			MetricNormStdev: seqArray(float32(i), n, 5),
			MetricCurrent:   seqArray(0, n, 300),
		}
		writeRegion(ctx, t, baseDir, Current, e.Region(), arrays)
	}
}

var aggregateEntries = []interval.Entry{
	entry("chr1", 100, 200, '+'),
	entry("chr1", 100, 200, '-'),
	entry("chr1", 300, 400, '+'),
	entry("chr2", 10, 20, '+'),
	entry("chr2", 30, 40, '.'),
	entry("chr10", 5, 6, '-'),
}

func TestAggregate(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	setupCurrent(ctx, t, tmpdir, aggregateEntries, 0, 2, 3, 5)
	// Contract violation: too few current columns.
	writeRegion(ctx, t, tmpdir, Current, aggregateEntries[4].Region(), currentArrays(3, 5, 5, 100))

	var first *Matrix
	for _, parallelism := range []int{1, 2, 3, 8, 100} {
		opts := DefaultOpts
		opts.BaseDir = tmpdir
		opts.Parallelism = parallelism
		m, stats, err := Aggregate(ctx, aggregateEntries, &opts)
		require.NoError(t, err)
		assert.Equal(t, Stats{Entries: 6, Dispatched: 6, Found: 4, Absent: 2}, stats)
		assert.Equal(t, []string{"chr1_+_200", "chr1_+_400", "chr2_+_20", "chr10_-_6"}, m.Names)
		require.Len(t, m.Rows, 4)
		for _, row := range m.Rows {
			assert.Len(t, row, 310)
		}
		if first == nil {
			first = m
			continue
		}
		assert.Equal(t, first, m, "parallelism %d", parallelism)
		assert.Equal(t, first.Checksum(), m.Checksum())
	}
	// Mean column 0 of a region is its end coordinate plus the mean row offset.
	assert.InDelta(t, 200+0.5*5*0.5, float64(first.Rows[0][0]), 1e-4)
}

func TestAggregateRegion(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	setupCurrent(ctx, t, tmpdir, aggregateEntries, 0, 1, 2, 3, 4, 5)
	opts := DefaultOpts
	opts.BaseDir = tmpdir
	opts.Region = "chr1:101-400"
	m, stats, err := Aggregate(ctx, aggregateEntries, &opts)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Dispatched)
	assert.Equal(t, []string{"chr1_+_200", "chr1_-_200", "chr1_+_400"}, m.Names)

	opts.Region = "chr1:0-5"
	_, _, err = Aggregate(ctx, aggregateEntries, &opts)
	assert.Error(t, err)
}

func TestAggregateWidth(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	entries := aggregateEntries[:3]
	for i, n := range []int{4, 6, 4} {
		writeRegion(ctx, t, tmpdir, Sequence, entries[i].Region(), map[string]artifact.Float32{
			MetricRefSeq: seqArray(float32(i), n),
		})
	}
	opts := DefaultOpts
	opts.BaseDir = tmpdir
	opts.Domain = Sequence

	_, _, err := Aggregate(ctx, entries, &opts)
	assert.Error(t, err)

	opts.Width = 4
	m, stats, err := Aggregate(ctx, entries, &opts)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, stats.Found)
	assert.Equal(t, []string{"chr1_+_200", "chr1_+_400"}, m.Names)
	assert.Equal(t, []float32{2, 2.5, 3, 3.5}, m.Rows[1])
}

func TestAggregateMalformed(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	setupCurrent(ctx, t, tmpdir, aggregateEntries, 0, 1, 2, 3, 4, 5)
	r := aggregateEntries[3].Region()
	f, err := file.Create(ctx, artifact.Path(Current.Dir(tmpdir, r.Chrom), r.Key(), MetricNormStdev))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	for _, parallelism := range []int{1, 4} {
		opts := DefaultOpts
		opts.BaseDir = tmpdir
		opts.Parallelism = parallelism
		m, _, err := Aggregate(ctx, aggregateEntries, &opts)
		assert.Error(t, err)
		assert.Nil(t, m)
	}
}

func TestAggregateEmpty(t *testing.T) {
	opts := DefaultOpts
	opts.BaseDir = "/nonexistent"
	m, stats, err := Aggregate(vcontext.Background(), nil, &opts)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, m.Rows)

	m, stats, err = Aggregate(vcontext.Background(), aggregateEntries, &opts)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Absent)
	assert.Empty(t, m.Names)
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(vcontext.Background())
	cancel()
	opts := DefaultOpts
	opts.BaseDir = "/nonexistent"
	_, _, err := Aggregate(ctx, aggregateEntries, &opts)
	assert.Error(t, err)
}

func TestRunWorkersConcurrency(t *testing.T) {
	n := 4*runtime.GOMAXPROCS(0) + 3
	var wg sync.WaitGroup
	wg.Add(n)
	allStarted := make(chan struct{})
	go func() {
		wg.Wait()
		close(allStarted)
	}()
	err := runWorkers(n, func() error {
		wg.Done()
		select {
		case <-allStarted:
			return nil
		case <-time.After(10 * time.Second):
			return context.DeadlineExceeded
		}
	})
	assert.NoError(t, err)
}
