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

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "install SPEC...",
		Short:   "Install packages into the environment",
		Example: `  reef install numpy "python >=3.11" "conda-forge::scipy"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return installRun(cmd.Context(), args)
		},
	}
}

func installRun(ctx context.Context, args []string) error {
	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}
	s, err := newSession(ctx, globalOpts)
	if err != nil {
		return err
	}
	return s.apply(ctx, solver.Request{Install: specs},
		time.Duration(globalOpts.Wait)*time.Second, append([]string{"install"}, args...))
}
