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

// Package feature loads per-region artifacts written by the raw-data
// extraction steps, reduces each region to a fixed-width summary vector, and
// assembles the vectors of many regions into a feature matrix.
//
// Artifacts for a region live in a per-chromosome dataset directory under a
// base directory, e.g. for the current domain
//
//	{base}/current_raw_chr1_datasets_base/chr1_+_200.reads_current.rio
//
// A region is Found only when its primary artifact exists and every metric
// array satisfies the domain's shape contract.  Missing or contract-violating
// regions are Absent and silently excluded from the matrix; an artifact that
// exists but cannot be read is an error that aborts the whole batch.
package feature
