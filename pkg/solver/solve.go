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
	"context"
	"fmt"
	"slices"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"github.com/reefpkg/reef/pkg/index"
)

// Solution is the ordered set of records chosen by the solver: every
// hard dependency of every selected record is itself selected, and no two
// records share a name. Records are in dependency order, dependencies
// first. Read-only after construction.
type Solution struct {
	Records []*index.PackageRecord
}

// ByName returns the selected record for a name, or nil.
func (s *Solution) ByName(name string) *index.PackageRecord {
	for _, rec := range s.Records {
		if rec.Name == name {
			return rec
		}
	}
	return nil
}

// Solver drives the constraint search over a pool restricted to a job
// set. The search is deterministic for a fixed pool and job set:
// decisions are made name by name over preference-ordered candidate
// lists, with each decision validated against the backend, so re-solving
// identical input reproduces an identical solution.
type Solver struct {
	pool    *index.Pool
	backend Backend
}

// Option configures a Solver.
type Option func(*Solver)

// WithBackend substitutes the SAT backend.
func WithBackend(b Backend) Option {
	return func(s *Solver) { s.backend = b }
}

// New creates a Solver over the given pool.
func New(pool *index.Pool, opts ...Option) *Solver {
	s := &Solver{pool: pool, backend: NewBackend()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// decision is one preference option for a name: select a specific
// candidate, or select none of them.
type decision struct {
	candidate *index.PackageRecord // nil means "select none"
}

// Solve runs the search and returns a Solution, or a *Conflict error
// carrying a minimal unsatisfiable explanation. Cancellation is honored
// between backend calls and returns *CancelledError.
func (s *Solver) Solve(ctx context.Context, jobs []Job, installed []*index.PackageRecord) (*Solution, error) {
	ctx, span := otel.Tracer("reef").Start(ctx, "Solver.Solve")
	defer span.End()
	log := clog.FromContext(ctx)

	for _, rec := range installed {
		if rec.Ver().String() == "" {
			if err := rec.Finalize(); err != nil {
				return nil, fmt.Errorf("installed record %s: %w", rec.Name, err)
			}
		}
	}

	p, err := encode(s.pool, jobs, installed)
	if err != nil {
		return nil, err
	}
	log.Debugf("encoded %d variables, %d structural clauses, %d jobs",
		len(p.vars), len(p.structural), len(jobs))

	if _, sat := s.backend.Solve(p.clausesWith(nil, nil)); !sat {
		return nil, explain(s.backend, p)
	}

	installedByName := make(map[string]*index.PackageRecord, len(installed))
	for _, rec := range installed {
		installedByName[rec.Name] = rec
	}

	var fixed []int
	selected := map[string]*index.PackageRecord{}
	for _, name := range s.decisionOrder(p, jobs, installedByName) {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Cause: err}
		}

		var chosen *index.PackageRecord
		found := false
		for _, d := range s.preferences(p, name, jobs, installedByName) {
			units := decisionUnits(p, name, d)
			if _, sat := s.backend.Solve(p.clausesWith(nil, append(slices.Clone(fixed), units...))); sat {
				fixed = append(fixed, units...)
				chosen = d.candidate
				found = true
				break
			}
		}
		if !found {
			// the base formula was satisfiable, so some option must be
			return nil, fmt.Errorf("internal: no consistent decision for %q", name)
		}
		if chosen != nil {
			selected[name] = chosen
		}
	}

	sol := &Solution{Records: orderByDependencies(selected)}
	return sol, nil
}

// decisionOrder fixes the order names are decided in: requested names in
// job order first, then installed names, then the rest of the universe,
// each group internally deterministic.
func (s *Solver) decisionOrder(p *problem, jobs []Job, installed map[string]*index.PackageRecord) []string {
	ordered := make([]string, 0, len(p.names))
	taken := map[string]bool{}
	take := func(name string) {
		if !taken[name] {
			taken[name] = true
			ordered = append(ordered, name)
		}
	}
	for _, job := range jobs {
		if job.Kind == JobInstall || job.Kind == JobUpdate {
			take(job.Name)
		}
	}
	instNames := make([]string, 0, len(installed))
	for name := range installed {
		instNames = append(instNames, name)
	}
	slices.Sort(instNames)
	for _, name := range instNames {
		take(name)
	}
	for _, name := range p.names {
		take(name)
	}
	return ordered
}

// preferences builds the objective as a decision order rather than a
// post-hoc filter: keep-installed beats change, requested names prefer
// their best matching candidate, names nobody asked for prefer absence,
// and the pool's canonical candidate ordering breaks all remaining ties.
func (s *Solver) preferences(p *problem, name string, jobs []Job, installed map[string]*index.PackageRecord) []decision {
	cands := p.byName[name]
	inst := installed[name]

	var job *Job
	for i := range jobs {
		if (jobs[i].Kind == JobInstall || jobs[i].Kind == JobUpdate) && jobs[i].Name == name {
			job = &jobs[i]
			break
		}
	}

	var prefs []decision
	seen := map[*index.PackageRecord]bool{}
	add := func(d decision) {
		if d.candidate != nil {
			if seen[d.candidate] {
				return
			}
			seen[d.candidate] = true
		}
		prefs = append(prefs, d)
	}

	switch {
	case job != nil && job.Kind == JobInstall:
		// minimal change first: an installed record that satisfies the
		// request stays put
		if inst != nil {
			for _, cand := range cands {
				if index.SameIdentity(cand, inst) && cand.Matches(job.Spec) {
					add(decision{candidate: cand})
				}
			}
		}
		for _, cand := range cands {
			if cand.Matches(job.Spec) {
				add(decision{candidate: cand})
			}
		}
	case job != nil && job.Kind == JobUpdate:
		// updates want the best candidate regardless of what is installed
		for _, cand := range cands {
			if cand.Matches(job.Spec) {
				add(decision{candidate: cand})
			}
		}
	case inst != nil:
		// keep what is there; if constraints force a change, prefer
		// another version over removal
		for _, cand := range cands {
			if index.SameIdentity(cand, inst) {
				add(decision{candidate: cand})
			}
		}
	default:
		add(decision{candidate: nil})
	}

	// everything else in canonical order as a fallback
	for _, cand := range cands {
		add(decision{candidate: cand})
	}
	if inst == nil && job == nil {
		return prefs
	}
	// absence is the last resort for names that were asked for
	add(decision{candidate: nil})
	return prefs
}

func decisionUnits(p *problem, name string, d decision) []int {
	cands := p.byName[name]
	if d.candidate != nil {
		return []int{p.varOf[d.candidate]}
	}
	units := make([]int, 0, len(cands))
	for _, cand := range cands {
		units = append(units, -p.varOf[cand])
	}
	return units
}

// orderByDependencies returns the selected records dependencies-first,
// with deterministic (alphabetical) tie-breaks. Cycles, which can occur
// in practice because depends are just strings, are broken
// alphabetically rather than rejected.
func orderByDependencies(selected map[string]*index.PackageRecord) []*index.PackageRecord {
	names := make([]string, 0, len(selected))
	for name := range selected {
		names = append(names, name)
	}
	slices.Sort(names)

	indegree := map[string]int{}
	edges := map[string][]string{} // dep name -> dependents
	for _, name := range names {
		indegree[name] += 0
		for _, dep := range selected[name].Depends {
			m, err := index.CachedParseMatchSpec(dep)
			if err != nil {
				continue
			}
			if _, ok := selected[m.Name]; ok && m.Name != name {
				edges[m.Name] = append(edges[m.Name], name)
				indegree[name]++
			}
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	out := make([]*index.PackageRecord, 0, len(names))
	done := map[string]bool{}
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		done[name] = true
		out = append(out, selected[name])
		var unlocked []string
		for _, next := range edges[name] {
			indegree[next]--
			if indegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		slices.Sort(unlocked)
		ready = append(ready, unlocked...)
	}
	// anything left is part of a cycle
	for _, name := range names {
		if !done[name] {
			out = append(out, selected[name])
		}
	}
	return out
}
