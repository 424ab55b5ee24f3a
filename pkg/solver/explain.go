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

	"github.com/reefpkg/reef/pkg/index"
)

// explain turns an unsatisfiable problem into a *Conflict carrying a
// minimal set of mutually unsatisfiable jobs and a requirement chain.
//
// The core is found by iterative deletion: drop one job group at a time
// and keep the drop whenever the remainder is still unsatisfiable. The
// structural clauses alone are always satisfiable (selecting nothing
// violates none of them), so the result is a minimal job core. The
// backend interface deliberately does not expose native unsat cores so
// any clause solver can be substituted; deletion over job groups costs
// one solve per job, which is cheap at job-set sizes.
func explain(backend Backend, p *problem) *Conflict {
	enabled := make([]bool, len(p.jobs))
	for i := range enabled {
		enabled[i] = true
	}

	for i := range p.jobs {
		enabled[i] = false
		if _, sat := backend.Solve(p.clausesWith(enabled, nil)); sat {
			// this job is needed to make the set unsatisfiable
			enabled[i] = true
		}
	}

	core := make([]Job, 0, len(p.jobs))
	for i, job := range p.jobs {
		if enabled[i] {
			core = append(core, job)
		}
	}

	return &Conflict{
		Jobs:  core,
		Chain: buildChain(p, core),
	}
}

// buildChain renders the core as "X requires Y, but ..." links. For each
// requiring job it walks the best candidate's dependencies and reports
// the first dependency whose providers are all excluded by another core
// job, recursing one level through intermediate requirements.
func buildChain(p *problem, core []Job) []string {
	var chain []string
	for _, job := range core {
		switch job.Kind {
		case JobInstall, JobUpdate:
			chain = append(chain, fmt.Sprintf("%s %q is requested", job.Kind, job.Spec))
		case JobRemove:
			chain = append(chain, fmt.Sprintf("removal of %q is requested", job.Name))
		case JobLock:
			chain = append(chain, fmt.Sprintf("%q is locked to %q", job.Name, job.Spec))
		}
	}

	for _, job := range core {
		if job.Kind != JobInstall && job.Kind != JobUpdate {
			continue
		}
		for _, cand := range p.byName[job.Name] {
			if !cand.Matches(job.Spec) {
				continue
			}
			if link := explainExclusion(p, core, cand, 0); link != "" {
				chain = append(chain, link)
				break
			}
		}
	}
	return chain
}

const maxExplainDepth = 3

// explainExclusion reports why rec cannot be part of any solution under
// the core jobs, or "" if no single-link reason is found.
func explainExclusion(p *problem, core []Job, rec *index.PackageRecord, depth int) string {
	if depth >= maxExplainDepth {
		return ""
	}
	for _, dep := range rec.Depends {
		m, err := index.CachedParseMatchSpec(dep)
		if err != nil {
			continue
		}
		providers := make([]*index.PackageRecord, 0, 4)
		for _, cand := range p.byName[m.Name] {
			if cand.Matches(m) {
				providers = append(providers, cand)
			}
		}
		if len(providers) == 0 {
			return fmt.Sprintf("%s requires %q, but nothing provides it", rec.ID(), dep)
		}

		allExcluded := true
		var excludedBy *Job
		for _, provider := range providers {
			blocking := excludingJob(core, provider)
			if blocking == nil {
				allExcluded = false
				break
			}
			excludedBy = blocking
		}
		if allExcluded && excludedBy != nil {
			switch excludedBy.Kind {
			case JobRemove:
				return fmt.Sprintf("%s requires %q, but %q is requested for removal", rec.ID(), dep, excludedBy.Name)
			case JobLock:
				return fmt.Sprintf("%s requires %q, but %q conflicts with it", rec.ID(), dep, excludedBy.Spec)
			default:
				return fmt.Sprintf("%s requires %q, but %q conflicts with it", rec.ID(), dep, excludedBy.Spec)
			}
		}

		// all providers exist and none is directly excluded; follow the
		// best provider down one level
		if link := explainExclusion(p, core, providers[0], depth+1); link != "" {
			return fmt.Sprintf("%s requires %q; %s", rec.ID(), dep, link)
		}
	}
	return ""
}

// excludingJob returns the core job whose clauses forbid selecting rec,
// if any.
func excludingJob(core []Job, rec *index.PackageRecord) *Job {
	for i := range core {
		job := &core[i]
		switch job.Kind {
		case JobRemove:
			if job.Name == rec.Name {
				return job
			}
		case JobLock:
			if job.Name == rec.Name && !rec.Matches(job.Spec) {
				return job
			}
		case JobInstall, JobUpdate:
			// an install of the same name excludes every non-matching
			// candidate via the single-version constraint
			if job.Name == rec.Name && !rec.Matches(job.Spec) {
				return job
			}
		}
	}
	return nil
}
