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

package index

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"github.com/reefpkg/reef/pkg/spec"
)

var parsedSpecs sync.Map // map[string]spec.MatchSpec

// CachedParseMatchSpec parses a constraint string, memoizing results.
// Dependency strings repeat heavily across an index, so this is shared by
// the pool and the solver.
func CachedParseMatchSpec(text string) (spec.MatchSpec, error) {
	if cached, ok := parsedSpecs.Load(text); ok {
		return cached.(spec.MatchSpec), nil
	}
	m, err := spec.ParseMatchSpec(text)
	if err != nil {
		return m, err
	}
	parsedSpecs.Store(text, m)
	return m, nil
}

// poolEntry pairs a record with the priority of the repository that
// contributed it.
type poolEntry struct {
	rec      *PackageRecord
	priority int
}

// Pool aggregates the package records of all configured repositories into
// one queryable universe, keyed by name. It is built once per resolution
// attempt and is read-only afterwards, so it may be shared freely across
// goroutines.
type Pool struct {
	names      map[string][]poolEntry
	dependents map[string][]*PackageRecord
	repos      []string
	sealed     bool
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		names:      map[string][]poolEntry{},
		dependents: map[string][]*PackageRecord{},
	}
}

// AddRepository inserts the records of one repository. Priority is the
// registration order: on an exact (name, version, build string, build
// number) collision the record from the earlier-registered repository
// wins. A priority already taken may be forced with AddRepositoryAt.
func (p *Pool) AddRepository(ctx context.Context, name string, records []*PackageRecord) {
	p.AddRepositoryAt(ctx, name, len(p.repos), records)
}

// AddRepositoryAt is AddRepository with an explicit priority (lower wins),
// for configurations that override the registration order.
func (p *Pool) AddRepositoryAt(ctx context.Context, name string, priority int, records []*PackageRecord) {
	log := clog.FromContext(ctx)
	p.repos = append(p.repos, name)
	for _, rec := range records {
		if err := rec.Finalize(); err != nil {
			log.Warnf("skipping record with unparseable version: %v", err)
			continue
		}
		if dup := p.findIdentity(rec); dup != nil {
			if dup.priority <= priority {
				continue
			}
			p.removeIdentity(rec)
		}
		p.names[rec.Name] = append(p.names[rec.Name], poolEntry{rec: rec, priority: priority})
		for _, dep := range rec.Depends {
			m, err := CachedParseMatchSpec(dep)
			if err != nil {
				continue
			}
			p.dependents[m.Name] = append(p.dependents[m.Name], rec)
		}
	}
	p.sealed = false
}

// AddVirtualPackages injects synthetic records describing platform
// capabilities (e.g. "__unix=5.15"). They take part in solving but are
// never planned, fetched or linked.
func (p *Pool) AddVirtualPackages(ctx context.Context, records []*PackageRecord) {
	for _, rec := range records {
		rec.Virtual = true
		if rec.Channel == "" {
			rec.Channel = "@virtual"
		}
	}
	// virtual records are authoritative, register them ahead of any repo
	p.AddRepositoryAt(ctx, "@virtual", -1, records)
}

func (p *Pool) findIdentity(rec *PackageRecord) *poolEntry {
	for i := range p.names[rec.Name] {
		if SameIdentity(p.names[rec.Name][i].rec, rec) {
			return &p.names[rec.Name][i]
		}
	}
	return nil
}

// removeIdentity drops a displaced record from the name map and from the
// reverse-dependency index, so Dependents never reports records that are
// no longer in the pool.
func (p *Pool) removeIdentity(rec *PackageRecord) {
	for _, e := range p.names[rec.Name] {
		if !SameIdentity(e.rec, rec) {
			continue
		}
		for _, dep := range e.rec.Depends {
			m, err := CachedParseMatchSpec(dep)
			if err != nil {
				continue
			}
			displaced := e.rec
			p.dependents[m.Name] = slices.DeleteFunc(p.dependents[m.Name], func(r *PackageRecord) bool {
				return r == displaced
			})
		}
	}
	p.names[rec.Name] = slices.DeleteFunc(p.names[rec.Name], func(e poolEntry) bool {
		return SameIdentity(e.rec, rec)
	})
}

// seal sorts every candidate list into the canonical order: version
// descending, build number descending, repository priority, then build
// string as a final deterministic tie-break.
func (p *Pool) seal() {
	if p.sealed {
		return
	}
	for _, entries := range p.names {
		slices.SortFunc(entries, func(a, b poolEntry) int {
			if c := spec.CompareVersions(a.rec.Ver(), b.rec.Ver()); c != 0 {
				return -c
			}
			if c := cmp.Compare(a.rec.BuildNumber, b.rec.BuildNumber); c != 0 {
				return -c
			}
			if c := cmp.Compare(a.priority, b.priority); c != 0 {
				return c
			}
			return cmp.Compare(a.rec.Build, b.rec.Build)
		})
	}
	p.sealed = true
}

// Candidates returns every record satisfying the spec, best first, per
// the canonical ordering. Queries are pure reads.
func (p *Pool) Candidates(ctx context.Context, m spec.MatchSpec) []*PackageRecord {
	_, span := otel.Tracer("reef").Start(ctx, "Pool.Candidates")
	defer span.End()

	p.seal()
	entries := p.names[m.Name]
	out := make([]*PackageRecord, 0, len(entries))
	for _, e := range entries {
		if e.rec.Matches(m) {
			out = append(out, e.rec)
		}
	}
	return out
}

// ByName returns every known record for a name, best first.
func (p *Pool) ByName(name string) []*PackageRecord {
	p.seal()
	entries := p.names[name]
	out := make([]*PackageRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec)
	}
	return out
}

// Dependents returns records whose depends mention the given name.
func (p *Pool) Dependents(name string) []*PackageRecord {
	return p.dependents[name]
}

// Names returns all package names in the pool, sorted.
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.names))
	for name := range p.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Repositories returns the registered repository names in order.
func (p *Pool) Repositories() []string { return slices.Clone(p.repos) }

// Count returns the total number of records in the pool.
func (p *Pool) Count() int {
	n := 0
	for _, entries := range p.names {
		n += len(entries)
	}
	return n
}
