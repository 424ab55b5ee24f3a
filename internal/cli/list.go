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
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/reefpkg/reef/pkg/env"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env.Open(globalOpts.Prefix)
			if err != nil {
				return err
			}
			installed, err := e.Installed()
			if err != nil {
				return err
			}
			sort.Slice(installed, func(i, j int) bool {
				return installed[i].Name < installed[j].Name
			})
			for _, rec := range installed {
				fmt.Printf("%-30s %-15s %-15s %s\n", rec.Name, rec.Version, rec.Build, rec.Channel)
			}
			return nil
		},
	}
}
