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
Package interval reads interval lists (BED-like text with a strand column)
and indexes them for exact-interval membership queries.

Unlike an interval union, the StrandIndex keeps every (start, end) pair
separately per chromosome and strand; a query matches only when both
endpoints are identical.  Coordinates are 0-based half-open and must fit in
a PosType.
*/
package interval
