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
	"runtime"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/catmod/interval"
	"golang.org/x/sync/errgroup"
)

// Opts configures Aggregate.
type Opts struct {
	// BaseDir is the directory holding the per-chromosome dataset
	// directories.
	BaseDir  string
	Domain   Domain
	Contract Contract
	// Parallelism is the number of concurrent region loads.  0 means
	// runtime.NumCPU().
	Parallelism int
	// Region, if set, restricts aggregation to interval-list entries inside
	// a samtools-style region string.
	Region string
	// Width, if positive, is the required feature-vector width; rows of any
	// other width are dropped.  If zero, every row must have the same width
	// and a mismatch is an error.
	Width int
}

// DefaultOpts is the default Aggregate configuration.
var DefaultOpts = Opts{
	Domain:      Current,
	Contract:    DefaultContract,
	Parallelism: 8,
}

// Stats counts what happened to the interval-list entries.
type Stats struct {
	// Entries is the number of interval-list entries given.
	Entries int
	// Dispatched is the number that passed the region restriction.
	Dispatched int
	// Found is the number of matrix rows.
	Found int
	// Absent is the number of regions with missing or contract-violating
	// artifacts.
	Absent int
	// Rejected is the number of loaded regions dropped for having the wrong
	// width.
	Rejected int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d entries, %d dispatched, %d found, %d absent, %d rejected",
		s.Entries, s.Dispatched, s.Found, s.Absent, s.Rejected)
}

// taskResult is what one region load hands back to the collector.
type taskResult struct {
	idx    int
	name   string
	row    []float32
	reason string
}

// Aggregate loads and summarizes the region of every entry and returns the
// resulting matrix.  Row i of the matrix is named by the region key of its
// entry; rows appear in entry order regardless of Parallelism.  Absent
// regions are skipped.  The first load error cancels the remaining work and
// is returned.
func Aggregate(ctx context.Context, entries []interval.Entry, opts *Opts) (*Matrix, Stats, error) {
	stats := Stats{Entries: len(entries)}
	dispatch := make([]int, 0, len(entries))
	if opts.Region != "" {
		restrict, err := interval.ParseRegionString(opts.Region)
		if err != nil {
			return nil, stats, err
		}
		for i, e := range entries {
			if restrict.Covers(e) {
				dispatch = append(dispatch, i)
			}
		}
	} else {
		for i := range entries {
			dispatch = append(dispatch, i)
		}
	}
	stats.Dispatched = len(dispatch)

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(dispatch) {
		parallelism = len(dispatch)
	}
	log.Printf("aggregate %s: loading %d region(s) from %s, parallelism %d",
		opts.Domain, len(dispatch), opts.BaseDir, parallelism)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	feed := make(chan int)
	results := make(chan taskResult, parallelism)
	var g errgroup.Group
	g.Go(func() error {
		defer close(feed)
		for _, idx := range dispatch {
			select {
			case feed <- idx:
			case <-ctx.Done():
				// The worker that cancelled reports the error.
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(results)
		if parallelism == 0 {
			return nil
		}
		return runWorkers(parallelism, func() error {
			for idx := range feed {
				if err := ctx.Err(); err != nil {
					return err
				}
				r, err := loadEntry(ctx, entries[idx], idx, opts)
				if err != nil {
					cancel()
					return err
				}
				results <- r
			}
			return nil
		})
	})

	// Only this goroutine touches collected.
	var collected []taskResult
	for r := range results {
		if r.row == nil {
			stats.Absent++
			log.Debug.Printf("aggregate: skipping %s: %s", r.name, r.reason)
			continue
		}
		collected = append(collected, r)
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}
	// The feeder stops quietly when the caller cancels.
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })
	width, fixed := opts.Width, opts.Width > 0
	m := &Matrix{
		Names: make([]string, 0, len(collected)),
		Rows:  make([][]float32, 0, len(collected)),
	}
	for _, r := range collected {
		if !fixed {
			width, fixed = len(r.row), true
		}
		if len(r.row) != width {
			if opts.Width == 0 {
				return nil, stats, fmt.Errorf("feature.Aggregate: %s has %d features, %s has %d",
					r.name, len(r.row), m.Names[0], width)
			}
			stats.Rejected++
			log.Debug.Printf("aggregate: skipping %s: %d features, want %d", r.name, len(r.row), width)
			continue
		}
		m.Names = append(m.Names, r.name)
		m.Rows = append(m.Rows, r.row)
	}
	stats.Found = len(m.Rows)
	log.Printf("aggregate %s: %v", opts.Domain, stats)
	return m, stats, nil
}

// runWorkers runs fn on n concurrent goroutines, regardless of the
// 2*GOMAXPROCS limit of traverse.Parallel.
func runWorkers(n int, fn func() error) error {
	return traverse.Limit(n).Each(n, func(int) error { return fn() })
}

func loadEntry(ctx context.Context, e interval.Entry, idx int, opts *Opts) (taskResult, error) {
	r := taskResult{idx: idx, name: e.Key()}
	outcome, err := Load(ctx, opts.BaseDir, e.Region(), opts.Domain, opts.Contract)
	if err != nil {
		return r, err
	}
	if outcome.Status == Absent {
		r.reason = outcome.Reason
		return r, nil
	}
	r.row = outcome.Summary()
	if r.row == nil {
		r.row = []float32{}
	}
	return r, nil
}
