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

// Package signal collects per-read signal measurements into per-region
// artifact sets.
//
// Input is a list of per-read files.  Each line of a per-read file describes
// one site on that read:
//
//	chrom start end . . strand mean,... stdev,... c,c,...;c,c,...;...
//
// where start/end include a flanking context on both sides of the site.  A
// line is kept only if its flank-corrected interval is exactly one of the
// intervals of the site list; it is then filed under the site's region key.
// Everything else is dropped.
package signal
