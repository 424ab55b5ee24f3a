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

// Package cli assembles the reef command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog/slag"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// GlobalOptions holds flags shared by every command.
type GlobalOptions struct {
	Prefix   string
	Config   string
	CacheDir string
	Channels []string
	Quiet    bool
	Verbose  int
	Wait     int
}

var globalOpts = &GlobalOptions{}

// New builds the root command.
func New() *cobra.Command {
	level := slag.Level(slog.LevelInfo)

	cmd := &cobra.Command{
		Use:               "reef",
		Short:             "Environment-based package manager",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if globalOpts.Quiet {
				level = slag.Level(slog.LevelError)
			} else if globalOpts.Verbose > 0 {
				if globalOpts.Verbose == 1 {
					level = slag.Level(slog.LevelDebug)
				} else {
					level = slag.Level(slog.LevelDebug - 1)
				}
			}

			slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
				ReportTimestamp: true,
				Level:           charmlog.Level(level),
			})))

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&globalOpts.Prefix, "prefix", "p", ".", "Environment prefix to operate on")
	cmd.PersistentFlags().StringVar(&globalOpts.Config, "config", "", "Path to reef.yaml (default <prefix>/.reef/reef.yaml)")
	cmd.PersistentFlags().StringVar(&globalOpts.CacheDir, "cache-dir", "", "Override the package cache directory")
	cmd.PersistentFlags().StringSliceVarP(&globalOpts.Channels, "channel", "c", nil, "Additional channel URL (lowest priority, repeatable)")
	cmd.PersistentFlags().BoolVarP(&globalOpts.Quiet, "quiet", "q", false, "Print less information")
	cmd.PersistentFlags().CountVarP(&globalOpts.Verbose, "verbose", "v", "Print more information (can be specified twice)")
	cmd.PersistentFlags().IntVar(&globalOpts.Wait, "wait", 0, "Wait up to TIME seconds for the environment lock")

	cmd.AddCommand(installCmd())
	cmd.AddCommand(removeCmd())
	cmd.AddCommand(updateCmd())
	cmd.AddCommand(solveCmd())
	cmd.AddCommand(listCmd())
	cmd.AddCommand(historyCmd())
	cmd.AddCommand(cleanCmd())

	return cmd
}
