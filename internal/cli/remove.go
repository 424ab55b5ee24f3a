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
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove NAME...",
		Short:   "Remove packages from the environment",
		Example: `  reef remove scipy`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return removeRun(cmd.Context(), args)
		},
	}
}

func removeRun(ctx context.Context, args []string) error {
	s, err := newSession(ctx, globalOpts)
	if err != nil {
		return err
	}
	return s.apply(ctx, solver.Request{Remove: args},
		time.Duration(globalOpts.Wait)*time.Second, append([]string{"remove"}, args...))
}
