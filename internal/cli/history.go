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
	"strings"

	"github.com/spf13/cobra"

	"github.com/reefpkg/reef/pkg/env"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the environment's transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := env.Open(globalOpts.Prefix)
			if err != nil {
				return err
			}
			entries, err := e.History()
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%4d  %s  %s\n", entry.Index,
					entry.Time.Format("2006-01-02 15:04:05"),
					strings.Join(entry.Request, " "))
				for _, id := range entry.Linked {
					fmt.Printf("      + %s\n", id)
				}
				for _, id := range entry.Unlinked {
					fmt.Printf("      - %s\n", id)
				}
			}
			return nil
		},
	}
}
