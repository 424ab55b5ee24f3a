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
	"slices"

	"github.com/reefpkg/reef/pkg/index"
)

// problem is the boolean formulation of one resolution: one variable per
// candidate record, structural clauses for dependencies, single-version
// and constrains relations, plus one clause group per job. Job groups are
// kept separate from the structural clauses so conflict explanation can
// delete them independently.
type problem struct {
	vars   []*index.PackageRecord
	varOf  map[*index.PackageRecord]int
	names  []string
	byName map[string][]*index.PackageRecord

	structural [][]int
	jobGroups  [][][]int
	jobs       []Job

	// dq records why a candidate can never be selected, in the spirit of
	// apk-style disqualification reasons; used to build explanations.
	dq map[*index.PackageRecord]string
}

// encode builds the problem over the part of the pool reachable from the
// jobs and the installed set. Installed records missing from the pool
// (e.g. their repository went away) still get variables so that keeping
// them remains expressible.
func encode(pool *index.Pool, jobs []Job, installed []*index.PackageRecord) (*problem, error) {
	p := &problem{
		varOf:  map[*index.PackageRecord]int{},
		byName: map[string][]*index.PackageRecord{},
		jobs:   jobs,
		dq:     map[*index.PackageRecord]string{},
	}

	installedByName := make(map[string]*index.PackageRecord, len(installed))
	for _, rec := range installed {
		installedByName[rec.Name] = rec
	}

	// reachability closure over depends
	var queue []string
	seen := map[string]bool{}
	push := func(name string) {
		if !seen[name] {
			seen[name] = true
			queue = append(queue, name)
		}
	}
	for _, job := range jobs {
		push(job.Name)
	}
	for _, rec := range installed {
		push(rec.Name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		cands := slices.Clone(pool.ByName(name))
		if inst, ok := installedByName[name]; ok {
			present := slices.ContainsFunc(cands, func(r *index.PackageRecord) bool {
				return index.SameIdentity(r, inst)
			})
			if !present {
				cands = append(cands, inst)
			}
		}
		p.byName[name] = cands
		p.names = append(p.names, name)

		for _, rec := range cands {
			for _, dep := range rec.Depends {
				if m, err := index.CachedParseMatchSpec(dep); err == nil {
					push(m.Name)
				}
			}
			for _, con := range rec.Constrains {
				if m, err := index.CachedParseMatchSpec(con); err == nil {
					push(m.Name)
				}
			}
		}
	}
	slices.Sort(p.names)

	// assign variables in deterministic order
	for _, name := range p.names {
		for _, rec := range p.byName[name] {
			p.vars = append(p.vars, rec)
			p.varOf[rec] = len(p.vars)
		}
	}

	// dependency clauses: selecting a record requires a provider for each
	// of its depends
	for _, name := range p.names {
		for _, rec := range p.byName[name] {
			v := p.varOf[rec]
			for _, dep := range rec.Depends {
				m, err := index.CachedParseMatchSpec(dep)
				if err != nil {
					// an unparseable dependency makes the record unselectable
					p.structural = append(p.structural, []int{-v})
					p.dq[rec] = fmt.Sprintf("dependency %q is malformed", dep)
					break
				}
				clause := []int{-v}
				for _, cand := range p.byName[m.Name] {
					if cand.Matches(m) {
						clause = append(clause, p.varOf[cand])
					}
				}
				if len(clause) == 1 {
					p.dq[rec] = fmt.Sprintf("requires %q, but nothing provides it", dep)
				}
				p.structural = append(p.structural, clause)
			}
			// constrains restrict without requiring: forbid co-selection
			// with any record that violates the constraint
			for _, con := range rec.Constrains {
				m, err := index.CachedParseMatchSpec(con)
				if err != nil {
					continue
				}
				for _, cand := range p.byName[m.Name] {
					if cand.Name != m.Name || cand == rec {
						continue
					}
					if !cand.Matches(m) {
						p.structural = append(p.structural, []int{-v, -p.varOf[cand]})
					}
				}
			}
		}
	}

	// at most one candidate per name
	for _, name := range p.names {
		cands := p.byName[name]
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				p.structural = append(p.structural, []int{-p.varOf[cands[i]], -p.varOf[cands[j]]})
			}
		}
	}

	// one clause group per job
	for _, job := range jobs {
		var group [][]int
		switch job.Kind {
		case JobInstall, JobUpdate:
			var clause []int
			for _, cand := range p.byName[job.Name] {
				if cand.Matches(job.Spec) {
					clause = append(clause, p.varOf[cand])
				}
			}
			if len(clause) == 0 {
				return nil, &Conflict{
					Jobs:  []Job{job},
					Chain: p.explainNoCandidates(job),
				}
			}
			group = append(group, clause)
		case JobRemove:
			for _, cand := range p.byName[job.Name] {
				group = append(group, []int{-p.varOf[cand]})
			}
		case JobLock:
			for _, cand := range p.byName[job.Name] {
				if !cand.Matches(job.Spec) {
					group = append(group, []int{-p.varOf[cand]})
				}
			}
		}
		p.jobGroups = append(p.jobGroups, group)
	}

	return p, nil
}

// clausesWith returns structural clauses plus the job groups whose index
// is enabled, plus any extra unit clauses.
func (p *problem) clausesWith(enabled []bool, units []int) [][]int {
	out := make([][]int, 0, len(p.structural)+len(units)+len(p.jobs))
	out = append(out, p.structural...)
	for i, group := range p.jobGroups {
		if enabled == nil || enabled[i] {
			out = append(out, group...)
		}
	}
	for _, u := range units {
		out = append(out, []int{u})
	}
	return out
}

// explainNoCandidates describes why a job's spec matches nothing, using
// disqualification reasons where we have them.
func (p *problem) explainNoCandidates(job Job) []string {
	cands := p.byName[job.Name]
	if len(cands) == 0 {
		return []string{fmt.Sprintf("nothing provides %q", job.Name)}
	}
	chain := []string{fmt.Sprintf("no candidate of %q satisfies %q", job.Name, job.Spec)}
	for _, cand := range cands {
		if reason, ok := p.dq[cand]; ok {
			chain = append(chain, fmt.Sprintf("%s disqualified: %s", cand.ID(), reason))
		}
	}
	return chain
}
