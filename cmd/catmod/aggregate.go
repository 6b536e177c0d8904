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

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/catmod/feature"
	"github.com/grailbio/catmod/interval"
	"v.io/x/lib/cmdline"
)

type aggregateFlags struct {
	domain   string
	bedPath  string
	baseDir  string
	outDir   string
	name     string
	threads  int
	region   string
	width    int
	tsv      bool
	contract feature.Contract
}

func newCmdAggregate() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "aggregate",
		Short: "Reduce per-region artifacts to a feature matrix",
		Long: `
aggregate derives the region key of every line of -bed from its chromosome,
strand and end columns, loads that region's artifacts for -domain from the
dataset directories under -dir, and writes the summary vectors of all regions
found to {out}/{name}.rio, with the region keys in {out}/{name}_names.rio.
Regions with no artifacts, or with arrays of an unexpected shape, are
skipped.  Rows follow the order of -bed.`,
	}
	flags := aggregateFlags{contract: feature.DefaultContract}
	cmd.Flags.StringVar(&flags.domain, "domain", "current", "Artifact domain: sequence, current or alignment")
	cmd.Flags.StringVar(&flags.bedPath, "bed", "", "Site list (required)")
	cmd.Flags.StringVar(&flags.baseDir, "dir", "", "Directory holding the per-chromosome dataset directories (required)")
	cmd.Flags.StringVar(&flags.outDir, "out", "", "Output directory (required)")
	cmd.Flags.StringVar(&flags.name, "name", "", "Matrix name (required)")
	cmd.Flags.IntVar(&flags.threads, "threads", feature.DefaultOpts.Parallelism, "Number of regions loaded concurrently; 0 = runtime.NumCPU()")
	cmd.Flags.StringVar(&flags.region, "region", "", "Only aggregate sites inside <contig>:<1-based first pos>-<last pos>")
	cmd.Flags.IntVar(&flags.width, "width", 0, "Required feature count per region; regions of another width are skipped. 0 requires all regions to agree")
	cmd.Flags.BoolVar(&flags.tsv, "tsv", false, "Also write the matrix as {out}/{name}.tsv")
	cmd.Flags.IntVar(&flags.contract.MeanWidth, "mean-width", feature.DefaultContract.MeanWidth, "Expected reads_norm_mean columns")
	cmd.Flags.IntVar(&flags.contract.StdevWidth, "stdev-width", feature.DefaultContract.StdevWidth, "Expected reads_norm_stdev columns")
	cmd.Flags.IntVar(&flags.contract.CurrentWidth, "current-width", feature.DefaultContract.CurrentWidth, "Expected reads_current columns")
	cmd.Flags.IntVar(&flags.contract.AlignmentDepth, "alignment-depth", feature.DefaultContract.AlignmentDepth, "Expected last dimension of reads_alignment")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return env.UsageErrorf("aggregate takes no positional arguments, but got %v", argv)
		}
		return runAggregate(vcontext.Background(), flags)
	})
	return cmd
}

func runAggregate(ctx context.Context, flags aggregateFlags) error {
	if flags.bedPath == "" || flags.baseDir == "" || flags.outDir == "" || flags.name == "" {
		return fmt.Errorf("aggregate: -bed, -dir, -out and -name are required")
	}
	domain, err := feature.ParseDomain(flags.domain)
	if err != nil {
		return err
	}
	entries, err := interval.ReadEntries(ctx, flags.bedPath)
	if err != nil {
		return err
	}
	opts := feature.DefaultOpts
	opts.BaseDir = flags.baseDir
	opts.Domain = domain
	opts.Contract = flags.contract
	opts.Parallelism = flags.threads
	opts.Region = flags.region
	opts.Width = flags.width
	m, _, err := feature.Aggregate(ctx, entries, &opts)
	if err != nil {
		return err
	}
	if err = m.Write(ctx, flags.outDir, flags.name); err != nil {
		return err
	}
	if flags.tsv {
		if err = m.WriteTSV(ctx, filepath.Join(flags.outDir, flags.name+".tsv")); err != nil {
			return err
		}
	}
	log.Printf("aggregate: wrote %d x %d matrix %s, checksum %016x",
		len(m.Rows), m.Width(), feature.MatrixPath(flags.outDir, flags.name), m.Checksum())
	return nil
}
