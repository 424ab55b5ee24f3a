// Copyright 2026 The Reef Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package solver

import (
	"fmt"
	"strings"
)

// UnsatisfiableRequestError is returned before the solver runs when a
// requested name has zero candidates in the pool. Failing fast here gives
// a precise error instead of an opaque solver conflict.
type UnsatisfiableRequestError struct {
	Name string
}

func (e *UnsatisfiableRequestError) Error() string {
	return fmt.Sprintf("nothing provides %q", e.Name)
}

// Conflict reports that no satisfying assignment exists. Jobs is a
// minimal set of mutually unsatisfiable jobs; Chain is the human-readable
// explanation, one "X requires Y, but ..." link per line.
type Conflict struct {
	Jobs  []Job
	Chain []string
}

func (c *Conflict) Error() string {
	if len(c.Chain) == 0 {
		return "unsolvable: conflicting requirements"
	}
	return "unsolvable:\n  " + strings.Join(c.Chain, "\n  ")
}

// CancelledError is returned when a solve is cancelled between backend
// iterations. No environment mutation has occurred; retrying is safe.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("solve cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }
