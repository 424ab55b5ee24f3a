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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reefpkg/reef/pkg/solver"
)

func solveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "solve SPEC...",
		Short:   "Resolve a request and print the plan without applying it",
		Example: `  reef solve "numpy >=1.20"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return solveRun(cmd.Context(), args)
		},
	}
}

func solveRun(ctx context.Context, args []string) error {
	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}
	s, err := newSession(ctx, globalOpts)
	if err != nil {
		return err
	}
	plan, sol, err := s.resolve(ctx, solver.Request{Install: specs})
	if err != nil {
		return err
	}

	fmt.Printf("solution (%d packages):\n", len(sol.Records))
	for _, rec := range sol.Records {
		marker := " "
		if rec.Virtual {
			marker = "@"
		}
		fmt.Printf("  %s %-40s %s\n", marker, rec.ID(), rec.Channel)
	}
	fmt.Printf("plan:\n")
	if plan.Empty() {
		fmt.Println("  nothing to do")
		return nil
	}
	for _, op := range plan.Ops {
		fmt.Printf("  %s\n", op)
	}
	return nil
}
