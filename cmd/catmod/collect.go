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

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/catmod/region"
	"github.com/grailbio/catmod/signal"
	"v.io/x/lib/cmdline"
)

type collectFlags struct {
	bedPath     string
	listPath    string
	outDir      string
	flat        bool
	windowStart int
	windowEnd   int
	parallelism int
}

func newCmdCollect() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "collect",
		Short: "File per-read signal records under the sites they cover",
		Long: `
collect reads the site list given by -bed and every per-read file named in
the list given by -list.  A record is kept when its coordinates, shrunk by
the flank given by -window-start and -window-end, are exactly a site of the
same chromosome and strand.  For each site with at least one record it writes
reads_norm_mean, reads_norm_stdev, reads_current and reads_id artifacts to
{out}/current_raw_{chrom}_datasets_base/, or straight to {out} with -flat.`,
	}
	var flags collectFlags
	cmd.Flags.StringVar(&flags.bedPath, "bed", "", "Site list: chrom, start, end, name, score, strand per line (required)")
	cmd.Flags.StringVar(&flags.listPath, "list", "", "File listing one per-read signal file per line (required)")
	cmd.Flags.StringVar(&flags.outDir, "out", "", "Output directory (required)")
	cmd.Flags.BoolVar(&flags.flat, "flat", false, "Write all artifacts directly into -out")
	cmd.Flags.IntVar(&flags.windowStart, "window-start", region.DefaultWindow.Start, "Flank bases at the start of each per-read record")
	cmd.Flags.IntVar(&flags.windowEnd, "window-end", region.DefaultWindow.End, "Flank bases at the end of each per-read record")
	cmd.Flags.IntVar(&flags.parallelism, "parallelism", signal.DefaultOpts.Parallelism, "Number of files parsed and regions written concurrently")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return env.UsageErrorf("collect takes no positional arguments, but got %v", argv)
		}
		return runCollect(vcontext.Background(), flags)
	})
	return cmd
}

func runCollect(ctx context.Context, flags collectFlags) error {
	if flags.bedPath == "" || flags.listPath == "" || flags.outDir == "" {
		return fmt.Errorf("collect: -bed, -list and -out are required")
	}
	opts := signal.DefaultOpts
	opts.OutDir = flags.outDir
	opts.Flat = flags.flat
	opts.Window = region.Window{Start: flags.windowStart, End: flags.windowEnd}
	opts.Parallelism = flags.parallelism
	_, err := signal.Collect(ctx, flags.bedPath, flags.listPath, opts)
	return err
}
