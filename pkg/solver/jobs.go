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

	"github.com/chainguard-dev/clog"

	"github.com/reefpkg/reef/pkg/index"
	"github.com/reefpkg/reef/pkg/spec"
)

// JobKind discriminates the solver directive variants.
type JobKind int

const (
	JobInstall JobKind = iota
	JobRemove
	JobUpdate
	JobLock
)

func (k JobKind) String() string {
	switch k {
	case JobInstall:
		return "install"
	case JobRemove:
		return "remove"
	case JobUpdate:
		return "update"
	case JobLock:
		return "lock"
	}
	return "unknown"
}

// Job is one solver directive. It is a closed variant set: Install and
// Update carry a spec, Remove carries only a name, Lock carries a spec
// (possibly name-only, meaning "keep at the installed version").
type Job struct {
	Kind JobKind
	Name string
	Spec spec.MatchSpec
}

func (j Job) String() string {
	if j.Kind == JobRemove {
		return fmt.Sprintf("%s %s", j.Kind, j.Name)
	}
	return fmt.Sprintf("%s %s", j.Kind, j.Spec)
}

// Request is the user-facing input to a resolution: specs to install or
// update, names to remove.
type Request struct {
	Install []spec.MatchSpec
	Update  []spec.MatchSpec
	Remove  []string
}

// BuildJobs translates a request plus the installed snapshot and pinned
// specs into solver jobs. Policy:
//
//   - a removal of a name that is not installed is a no-op, not an error;
//   - a name requested for both install/update and removal yields only the
//     Remove job; the removal wins;
//   - an install/update of a name with zero candidates fails fast with
//     UnsatisfiableRequestError;
//   - a pin whose name is not requested becomes a Lock job; a name-only
//     pin locks to the installed version and is dropped if the name is
//     not installed.
func BuildJobs(ctx context.Context, pool *index.Pool, req Request, installed []*index.PackageRecord, pins []spec.MatchSpec) ([]Job, error) {
	log := clog.FromContext(ctx)

	installedByName := make(map[string]*index.PackageRecord, len(installed))
	for _, rec := range installed {
		installedByName[rec.Name] = rec
	}
	requested := map[string]bool{}
	removing := make(map[string]bool, len(req.Remove))
	for _, name := range req.Remove {
		removing[name] = true
	}

	jobs := make([]Job, 0, len(req.Install)+len(req.Update)+len(req.Remove)+len(pins))
	for _, m := range req.Install {
		if removing[m.Name] {
			log.Debugf("install of %q dropped, also requested for removal", m.Name)
			continue
		}
		if len(pool.ByName(m.Name)) == 0 {
			return nil, &UnsatisfiableRequestError{Name: m.Name}
		}
		requested[m.Name] = true
		jobs = append(jobs, Job{Kind: JobInstall, Name: m.Name, Spec: m})
	}
	for _, m := range req.Update {
		if removing[m.Name] {
			log.Debugf("update of %q dropped, also requested for removal", m.Name)
			continue
		}
		if len(pool.ByName(m.Name)) == 0 {
			return nil, &UnsatisfiableRequestError{Name: m.Name}
		}
		requested[m.Name] = true
		jobs = append(jobs, Job{Kind: JobUpdate, Name: m.Name, Spec: m})
	}
	for _, name := range req.Remove {
		if _, ok := installedByName[name]; !ok {
			log.Debugf("removal of %q skipped, not installed", name)
			continue
		}
		requested[name] = true
		jobs = append(jobs, Job{Kind: JobRemove, Name: name})
	}

	for _, pin := range pins {
		if requested[pin.Name] {
			// the request already speaks for this name; the pin still
			// constrains it
			jobs = append(jobs, Job{Kind: JobLock, Name: pin.Name, Spec: pin})
			continue
		}
		if len(pin.Constraints) == 0 && pin.Build == "" && !pin.HasBuildNum {
			inst, ok := installedByName[pin.Name]
			if !ok {
				log.Debugf("pin for %q skipped, not installed and no version given", pin.Name)
				continue
			}
			lockedSpec := fmt.Sprintf("%s=%s", inst.Name, inst.Version)
			if inst.Build != "" {
				lockedSpec += "=" + inst.Build
			}
			locked, err := index.CachedParseMatchSpec(lockedSpec)
			if err != nil {
				return nil, fmt.Errorf("locking %q to installed version: %w", pin.Name, err)
			}
			jobs = append(jobs, Job{Kind: JobLock, Name: pin.Name, Spec: locked})
			continue
		}
		jobs = append(jobs, Job{Kind: JobLock, Name: pin.Name, Spec: pin})
	}

	return jobs, nil
}
