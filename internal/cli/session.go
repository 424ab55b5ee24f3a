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
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/reefpkg/reef/pkg/cache"
	"github.com/reefpkg/reef/pkg/config"
	"github.com/reefpkg/reef/pkg/env"
	"github.com/reefpkg/reef/pkg/hooks"
	"github.com/reefpkg/reef/pkg/index"
	"github.com/reefpkg/reef/pkg/solver"
	"github.com/reefpkg/reef/pkg/spec"
	"github.com/reefpkg/reef/pkg/transaction"
)

// session wires the layers for one command invocation: config, the
// target environment, the channel indexes and the package cache.
type session struct {
	cfg   *config.Config
	env   *env.Environment
	cache *cache.Cache
	pool  *index.Pool
	pins  []spec.MatchSpec
}

func newSession(ctx context.Context, opts *GlobalOptions) (*session, error) {
	e, err := env.Open(opts.Prefix)
	if err != nil {
		return nil, err
	}

	cfgPath := opts.Config
	if cfgPath == "" {
		cfgPath = filepath.Join(e.Root(), ".reef", config.FileName)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	for _, url := range opts.Channels {
		cfg.Channels = append(cfg.Channels, config.Channel{
			Name: url,
			URL:  url,
		})
	}
	if len(cfg.Channels) == 0 {
		return nil, fmt.Errorf("no channels configured; add one to %s or pass --channel", cfgPath)
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}
	cacheDir, err := cfg.ResolveCacheDir()
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cacheDir)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, env: e, cache: c}
	for _, text := range cfg.Pins {
		pin, err := spec.ParseMatchSpec(text)
		if err != nil {
			return nil, fmt.Errorf("pin %q: %w", text, err)
		}
		s.pins = append(s.pins, pin)
	}

	if err := s.loadPool(ctx, cacheDir); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) loadPool(ctx context.Context, cacheDir string) error {
	log := clog.FromContext(ctx)
	fetcher := index.NewFetcher(cacheDir, nil)

	pool := index.NewPool()
	pool.AddVirtualPackages(ctx, index.DetectVirtualPackages())
	for _, ch := range s.cfg.Channels {
		records, err := fetcher.Fetch(ctx, index.Channel{
			Name:    ch.Name,
			BaseURL: ch.URL,
			Subdirs: s.cfg.ChannelSubdirs(ch),
		})
		if err != nil {
			return fmt.Errorf("loading channel %q: %w", ch.Name, err)
		}
		log.Debugf("channel %s: %d records", ch.Name, len(records))
		if ch.Priority != nil {
			pool.AddRepositoryAt(ctx, ch.Name, *ch.Priority, records)
		} else {
			pool.AddRepository(ctx, ch.Name, records)
		}
	}
	s.pool = pool
	return nil
}

// resolve turns a request into a plan without touching the environment.
func (s *session) resolve(ctx context.Context, req solver.Request) (*transaction.Plan, *solver.Solution, error) {
	installed, err := s.env.Installed()
	if err != nil {
		return nil, nil, err
	}
	jobs, err := solver.BuildJobs(ctx, s.pool, req, installed, s.pins)
	if err != nil {
		return nil, nil, err
	}
	sol, err := solver.New(s.pool).Solve(ctx, jobs, installed)
	if err != nil {
		return nil, nil, err
	}
	return transaction.NewPlan(sol, installed), sol, nil
}

// apply resolves and executes a request under the environment lock and
// records it in history.
func (s *session) apply(ctx context.Context, req solver.Request, wait time.Duration, requestText []string) error {
	log := clog.FromContext(ctx)

	lockCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	lock, err := s.env.Acquire(lockCtx)
	if err != nil {
		return err
	}
	defer lock.Release()

	plan, _, err := s.resolve(ctx, req)
	if err != nil {
		return err
	}
	if plan.Empty() {
		log.Infof("nothing to do")
		return nil
	}

	exec := transaction.NewExecutor(s.cache, s.env, hooks.NewRunner())
	if len(s.cfg.Required) > 0 {
		exec.RequiredHooks = map[string]bool{}
		for _, name := range s.cfg.Required {
			exec.RequiredHooks[name] = true
		}
	}
	receipt, err := exec.Execute(ctx, plan, s.env.Root())
	if err != nil {
		return err
	}

	entry := env.HistoryEntry{Request: requestText}
	for _, rec := range receipt.Linked {
		entry.Linked = append(entry.Linked, rec.ID())
	}
	for _, rec := range receipt.Unlinked {
		entry.Unlinked = append(entry.Unlinked, rec.ID())
	}
	if _, err := s.env.RecordHistory(entry); err != nil {
		log.Warnf("recording history: %v", err)
	}
	log.Infof("done: %d linked, %d unlinked in %s",
		len(receipt.Linked), len(receipt.Unlinked), receipt.Duration.Round(time.Millisecond))
	return nil
}

func parseSpecs(args []string) ([]spec.MatchSpec, error) {
	out := make([]spec.MatchSpec, 0, len(args))
	for _, arg := range args {
		m, err := spec.ParseMatchSpec(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
