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
	"fmt"

	"github.com/reefpkg/reef/pkg/spec"
)

// PackageRecord is an immutable descriptor of one installable package as
// listed in a repository index. Records are shared read-only across the
// index, solver and transaction layers; nothing mutates one after
// ingestion.
type PackageRecord struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Build       string   `json:"build"`
	BuildNumber int      `json:"build_number"`
	Channel     string   `json:"channel"`
	Subdir      string   `json:"subdir"`
	Depends     []string `json:"depends"`
	Constrains  []string `json:"constrains"`
	SHA256      string   `json:"sha256"`
	Size        uint64   `json:"size"`
	URL         string   `json:"url"`

	// Virtual marks a synthetic record describing a platform capability.
	// Virtual records satisfy constraints but are never fetched or linked.
	Virtual bool `json:"-"`

	version spec.Version
}

func (p *PackageRecord) String() string {
	return fmt.Sprintf("%s (ver:%s build:%s channel:%s)", p.Name, p.Version, p.Build, p.Channel)
}

// ID returns the record's identity. Two records with the same ID are the
// same package for planning purposes.
func (p *PackageRecord) ID() string {
	return fmt.Sprintf("%s-%s-%s_%d", p.Name, p.Version, p.Build, p.BuildNumber)
}

// Filename returns the package filename as it's named in a repository.
func (p *PackageRecord) Filename() string {
	return p.Name + "-" + p.Version + "-" + p.Build + ".tar.zst"
}

// Ver returns the parsed version, populated at ingestion time.
func (p *PackageRecord) Ver() spec.Version { return p.version }

// Finalize parses the version string. Records that fail are dropped by
// the pool rather than poisoning comparisons later.
func (p *PackageRecord) Finalize() error {
	v, err := spec.ParseVersion(p.Version)
	if err != nil {
		return fmt.Errorf("record %s: %w", p.Name, err)
	}
	p.version = v
	return nil
}

// SameIdentity reports whether two records describe the same
// (name, version, build string, build number).
func SameIdentity(a, b *PackageRecord) bool {
	return a.Name == b.Name && a.Version == b.Version &&
		a.Build == b.Build && a.BuildNumber == b.BuildNumber
}

// Matches reports whether the record satisfies the given spec.
func (p *PackageRecord) Matches(m spec.MatchSpec) bool {
	if p.Name != m.Name {
		return false
	}
	if !m.MatchesChannel(p.Channel) {
		return false
	}
	if !m.MatchesVersion(p.version) {
		return false
	}
	return m.MatchesBuild(p.Build, p.BuildNumber)
}
