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

/*
catmod builds region feature matrices from long-read sequencing data.

	catmod collect -bed sites.bed -list reads.list -out raw/
	catmod aggregate -domain current -bed sites.bed -dir raw/ -out matrices/ -name positives

collect files the per-read signal records listed in reads.list under the
sites of sites.bed whose flank-corrected coordinates they match, and writes
one artifact set per site.  aggregate reduces the artifacts of every site
in sites.bed to a feature vector and writes the resulting matrix.
*/
package main

import (
	"os"

	"github.com/grailbio/base/grail"
	"v.io/x/lib/cmdline"
)

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "catmod",
		Short:    "Region feature extraction for long-read modification calling",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdCollect(),
			newCmdAggregate(),
		},
	}
}

func main() {
	shutdown := grail.Init()
	cmdline.HideGlobalFlagsExcept()
	env := cmdline.EnvFromOS()
	err := cmdline.ParseAndRun(newCmdRoot(), env, os.Args[1:])
	code := cmdline.ExitCode(err, env.Stderr)
	shutdown()
	os.Exit(code)
}
