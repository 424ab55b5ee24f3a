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

package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/reefpkg/reef/pkg/solver"
	"github.com/reefpkg/reef/pkg/spec"
)

func updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "update [SPEC...]",
		Short:   "Update packages to their best available versions",
		Long:    "Update the named packages, or every installed package when no spec is given.",
		Example: `  reef update numpy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateRun(cmd.Context(), args)
		},
	}
}

func updateRun(ctx context.Context, args []string) error {
	s, err := newSession(ctx, globalOpts)
	if err != nil {
		return err
	}

	var specs []spec.MatchSpec
	if len(args) > 0 {
		specs, err = parseSpecs(args)
		if err != nil {
			return err
		}
	} else {
		installed, err := s.env.Installed()
		if err != nil {
			return err
		}
		for _, rec := range installed {
			m, err := spec.ParseMatchSpec(rec.Name)
			if err != nil {
				return err
			}
			specs = append(specs, m)
		}
	}
	return s.apply(ctx, solver.Request{Update: specs},
		time.Duration(globalOpts.Wait)*time.Second, append([]string{"update"}, args...))
}
