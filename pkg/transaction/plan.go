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

package transaction

import (
	"fmt"
	"slices"
	"strings"

	"github.com/reefpkg/reef/pkg/index"
	"github.com/reefpkg/reef/pkg/solver"
)

// OpKind discriminates plan operation variants.
type OpKind int

const (
	// OpLink installs a package that was not present.
	OpLink OpKind = iota
	// OpUnlink removes an installed package with no replacement.
	OpUnlink
	// OpSupersede replaces an installed package with a different record of
	// the same name. The unlink and link are one operation so rollback
	// treats them atomically.
	OpSupersede
)

func (k OpKind) String() string {
	switch k {
	case OpLink:
		return "link"
	case OpUnlink:
		return "unlink"
	case OpSupersede:
		return "supersede"
	}
	return "unknown"
}

// Op is one step of a plan. New is set for link and supersede, Old for
// unlink and supersede.
type Op struct {
	Kind OpKind
	Old  *index.PackageRecord
	New  *index.PackageRecord
}

func (o Op) String() string {
	switch o.Kind {
	case OpLink:
		return fmt.Sprintf("link %s", o.New.ID())
	case OpUnlink:
		return fmt.Sprintf("unlink %s", o.Old.ID())
	case OpSupersede:
		return fmt.Sprintf("supersede %s -> %s", o.Old.ID(), o.New.ID())
	}
	return "unknown op"
}

// Plan is the ordered list of operations turning the installed state into
// the solution. Supersedes and links come first in dependency order so a
// package is never linked before its dependencies; plain unlinks follow,
// dependents before their dependencies. Records already installed at the
// right identity produce no operation. A plan is immutable once built.
type Plan struct {
	Ops []Op

	// Unchanged lists solution records that required no operation.
	Unchanged []*index.PackageRecord
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool { return len(p.Ops) == 0 }

// Summary renders a one-line-per-op description for logs and dry runs.
func (p *Plan) Summary() string {
	if p.Empty() {
		return "nothing to do"
	}
	lines := make([]string, 0, len(p.Ops))
	for _, op := range p.Ops {
		lines = append(lines, op.String())
	}
	return strings.Join(lines, "\n")
}

// NewPlan diffs a solution against the installed snapshot. Virtual
// records never produce operations. The diff is deterministic: the
// solution's dependency order drives link order, and removals are
// topologically ordered dependents-first regardless of snapshot order.
func NewPlan(sol *solver.Solution, installed []*index.PackageRecord) *Plan {
	installedByName := make(map[string]*index.PackageRecord, len(installed))
	for _, rec := range installed {
		installedByName[rec.Name] = rec
	}

	plan := &Plan{}
	inSolution := map[string]bool{}
	for _, rec := range sol.Records {
		inSolution[rec.Name] = true
		if rec.Virtual {
			continue
		}
		old, ok := installedByName[rec.Name]
		switch {
		case !ok:
			plan.Ops = append(plan.Ops, Op{Kind: OpLink, New: rec})
		case index.SameIdentity(old, rec):
			plan.Unchanged = append(plan.Unchanged, rec)
		default:
			plan.Ops = append(plan.Ops, Op{Kind: OpSupersede, Old: old, New: rec})
		}
	}

	removed := make([]*index.PackageRecord, 0, len(installed))
	for _, rec := range installed {
		if !inSolution[rec.Name] && !rec.Virtual {
			removed = append(removed, rec)
		}
	}
	for _, rec := range orderRemovals(removed) {
		plan.Ops = append(plan.Ops, Op{Kind: OpUnlink, Old: rec})
	}
	return plan
}

// orderRemovals topologically sorts a removal batch dependents-first, so
// nothing is unlinked while another package of the same batch still
// depends on it. Ties and cycles break alphabetically.
func orderRemovals(removed []*index.PackageRecord) []*index.PackageRecord {
	byName := make(map[string]*index.PackageRecord, len(removed))
	names := make([]string, 0, len(removed))
	for _, rec := range removed {
		byName[rec.Name] = rec
		names = append(names, rec.Name)
	}
	slices.Sort(names)

	indegree := map[string]int{}
	edges := map[string][]string{} // dependent name -> its removed dependencies
	for _, name := range names {
		indegree[name] += 0
		for _, dep := range byName[name].Depends {
			m, err := index.CachedParseMatchSpec(dep)
			if err != nil {
				continue
			}
			if _, ok := byName[m.Name]; ok && m.Name != name {
				edges[name] = append(edges[name], m.Name)
				indegree[m.Name]++
			}
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	out := make([]*index.PackageRecord, 0, len(names))
	done := map[string]bool{}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		done[name] = true
		out = append(out, byName[name])
		var unlocked []string
		for _, dep := range edges[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		slices.Sort(unlocked)
		ready = append(ready, unlocked...)
	}
	// anything left is part of a cycle
	for _, name := range names {
		if !done[name] {
			out = append(out, byName[name])
		}
	}
	return out
}
