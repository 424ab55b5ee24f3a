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
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/reefpkg/reef/pkg/cache"
	"github.com/reefpkg/reef/pkg/config"
	"github.com/reefpkg/reef/pkg/env"
)

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove cached archives and payloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := env.Open(globalOpts.Prefix)
			if err != nil {
				return err
			}
			cfgPath := globalOpts.Config
			if cfgPath == "" {
				cfgPath = filepath.Join(e.Root(), ".reef", config.FileName)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if globalOpts.CacheDir != "" {
				cfg.CacheDir = globalOpts.CacheDir
			}
			dir, err := cfg.ResolveCacheDir()
			if err != nil {
				return err
			}
			c, err := cache.New(dir)
			if err != nil {
				return err
			}
			if err := c.Clean(); err != nil {
				return err
			}
			clog.FromContext(ctx).Infof("cleaned cache at %s", dir)
			return nil
		},
	}
}
