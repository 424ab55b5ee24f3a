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

package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/reefpkg/reef/pkg/index"
)

// Cache fetches and extracts package payloads. EnsureExtracted returns
// the directory holding the extracted payload, downloading and verifying
// the archive first if needed.
type Cache interface {
	EnsureExtracted(ctx context.Context, rec *index.PackageRecord) (string, error)
}

// releaser is implemented by caches that reference-count extracted
// payloads. After a committed transaction the executor releases the
// payloads of packages removed outright.
type releaser interface {
	Release(rec *index.PackageRecord) error
}

// Environment links and unlinks package contents in a target prefix.
// Link and Unlink must each be individually reversible by the other.
type Environment interface {
	Link(ctx context.Context, rec *index.PackageRecord, payload string) error
	Unlink(ctx context.Context, rec *index.PackageRecord) error
}

// Hooks runs package lifecycle scripts. A nil Hooks disables them.
type Hooks interface {
	PostLink(ctx context.Context, rec *index.PackageRecord, prefix string) error
	PreUnlink(ctx context.Context, rec *index.PackageRecord, prefix string) error
}

// ExecutionError wraps the failure of one plan operation. RolledBack
// reports whether the environment was restored to its pre-transaction
// state.
type ExecutionError struct {
	Op         Op
	Cause      error
	RolledBack bool
}

func (e *ExecutionError) Error() string {
	state := "rolled back"
	if !e.RolledBack {
		state = "environment may be inconsistent"
	}
	return fmt.Sprintf("executing %s: %v (%s)", e.Op, e.Cause, state)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// RollbackError reports that undoing an operation failed after the
// transaction had already failed. The environment is inconsistent and
// needs manual repair.
type RollbackError struct {
	Op    Op
	Cause error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rolling back %s: %v", e.Op, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// Receipt summarizes a completed transaction.
type Receipt struct {
	Linked   []*index.PackageRecord
	Unlinked []*index.PackageRecord
	Duration time.Duration
}

// Executor applies a plan to an environment. Payloads are prefetched
// concurrently, but mutation is strictly sequential and journaled so a
// failure at any point can be undone in reverse order.
type Executor struct {
	cache Cache
	env   Environment
	hooks Hooks

	// PrefetchConcurrency bounds parallel downloads. Zero means 4.
	PrefetchConcurrency int

	// RequiredHooks names packages whose lifecycle hooks must succeed.
	// For every other package a failed hook is logged and the transaction
	// continues.
	RequiredHooks map[string]bool
}

// NewExecutor wires an executor. hooks may be nil.
func NewExecutor(cache Cache, env Environment, hooks Hooks) *Executor {
	return &Executor{cache: cache, env: env, hooks: hooks}
}

// Execute runs the plan. On any operation failure every completed
// operation is undone in strict reverse order and an *ExecutionError is
// returned; if an undo itself fails the ExecutionError is joined with a
// *RollbackError and RolledBack is false. On success the environment
// matches the plan's target state exactly.
func (e *Executor) Execute(ctx context.Context, plan *Plan, prefix string) (*Receipt, error) {
	ctx, span := otel.Tracer("reef").Start(ctx, "Executor.Execute")
	defer span.End()
	log := clog.FromContext(ctx)
	start := time.Now()

	if plan.Empty() {
		return &Receipt{Duration: time.Since(start)}, nil
	}

	payloads, err := e.prefetch(ctx, plan)
	if err != nil {
		// nothing has been mutated yet
		return nil, err
	}

	var journal []Op
	for _, op := range plan.Ops {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(ctx, journal, payloads, op, err)
		}
		log.Infof("%s", op)
		if err := e.apply(ctx, op, payloads, prefix); err != nil {
			return nil, e.fail(ctx, journal, payloads, op, err)
		}
		journal = append(journal, op)
	}

	receipt := &Receipt{Duration: time.Since(start)}
	for _, op := range journal {
		if op.New != nil {
			receipt.Linked = append(receipt.Linked, op.New)
		}
		if op.Old != nil {
			receipt.Unlinked = append(receipt.Unlinked, op.Old)
		}
	}

	// committed; payloads of outright removals are no longer needed
	if rel, ok := e.cache.(releaser); ok {
		for _, op := range journal {
			if op.Kind != OpUnlink {
				continue
			}
			if err := rel.Release(op.Old); err != nil {
				log.Warnf("releasing payload of %s: %v", op.Old.ID(), err)
			}
		}
	}
	return receipt, nil
}

// prefetch extracts every payload the plan will link, including the old
// payloads of superseded and unlinked packages so rollback can re-link
// them without a network dependency.
func (e *Executor) prefetch(ctx context.Context, plan *Plan) (map[string]string, error) {
	concurrency := e.PrefetchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	var needed []*index.PackageRecord
	seen := map[string]bool{}
	for _, op := range plan.Ops {
		for _, rec := range []*index.PackageRecord{op.New, op.Old} {
			if rec != nil && !seen[rec.ID()] {
				seen[rec.ID()] = true
				needed = append(needed, rec)
			}
		}
	}

	payloads := make(map[string]string, len(needed))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	results := make([]string, len(needed))
	for i, rec := range needed {
		g.Go(func() error {
			dir, err := e.cache.EnsureExtracted(ctx, rec)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", rec.ID(), err)
			}
			results[i] = dir
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, rec := range needed {
		payloads[rec.ID()] = results[i]
	}
	return payloads, nil
}

func (e *Executor) apply(ctx context.Context, op Op, payloads map[string]string, prefix string) error {
	switch op.Kind {
	case OpLink:
		if err := e.env.Link(ctx, op.New, payloads[op.New.ID()]); err != nil {
			return err
		}
		if err := e.runPostLink(ctx, op.New, prefix); err != nil {
			// a required package's op either fully applies or leaves no trace
			if undoErr := e.env.Unlink(ctx, op.New); undoErr != nil {
				return fmt.Errorf("%w (undoing %s: %v)", err, op.New.ID(), undoErr)
			}
			return err
		}
		return nil
	case OpUnlink:
		if err := e.runPreUnlink(ctx, op.Old, prefix); err != nil {
			return err
		}
		return e.env.Unlink(ctx, op.Old)
	case OpSupersede:
		if err := e.runPreUnlink(ctx, op.Old, prefix); err != nil {
			return err
		}
		if err := e.env.Unlink(ctx, op.Old); err != nil {
			return err
		}
		if err := e.env.Link(ctx, op.New, payloads[op.New.ID()]); err != nil {
			if restoreErr := e.env.Link(ctx, op.Old, payloads[op.Old.ID()]); restoreErr != nil {
				return fmt.Errorf("%w (restoring %s: %v)", err, op.Old.ID(), restoreErr)
			}
			return err
		}
		if err := e.runPostLink(ctx, op.New, prefix); err != nil {
			if undoErr := e.env.Unlink(ctx, op.New); undoErr != nil {
				return fmt.Errorf("%w (undoing %s: %v)", err, op.New.ID(), undoErr)
			}
			if restoreErr := e.env.Link(ctx, op.Old, payloads[op.Old.ID()]); restoreErr != nil {
				return fmt.Errorf("%w (restoring %s: %v)", err, op.Old.ID(), restoreErr)
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

// revert undoes one applied operation.
func (e *Executor) revert(ctx context.Context, op Op, payloads map[string]string) error {
	switch op.Kind {
	case OpLink:
		return e.env.Unlink(ctx, op.New)
	case OpUnlink:
		return e.env.Link(ctx, op.Old, payloads[op.Old.ID()])
	case OpSupersede:
		if err := e.env.Unlink(ctx, op.New); err != nil {
			return err
		}
		return e.env.Link(ctx, op.Old, payloads[op.Old.ID()])
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

// fail rolls back the journal in reverse and wraps the original error.
// Rollback ignores the inbound cancellation so an interrupted transaction
// still restores the environment.
func (e *Executor) fail(ctx context.Context, journal []Op, payloads map[string]string, failed Op, cause error) error {
	log := clog.FromContext(ctx)
	log.Warnf("transaction failed at %s, rolling back %d operations: %v", failed, len(journal), cause)

	rollbackCtx := context.WithoutCancel(ctx)
	for i := len(journal) - 1; i >= 0; i-- {
		if err := e.revert(rollbackCtx, journal[i], payloads); err != nil {
			return &ExecutionError{
				Op:         failed,
				Cause:      fmt.Errorf("%w; %w", cause, &RollbackError{Op: journal[i], Cause: err}),
				RolledBack: false,
			}
		}
	}
	return &ExecutionError{Op: failed, Cause: cause, RolledBack: true}
}

// Hook failures are recoverable unless the package is named in
// RequiredHooks: a best-effort script must not cost a whole transaction.

func (e *Executor) runPostLink(ctx context.Context, rec *index.PackageRecord, prefix string) error {
	if e.hooks == nil {
		return nil
	}
	err := e.hooks.PostLink(ctx, rec, prefix)
	if err != nil && !e.RequiredHooks[rec.Name] {
		clog.FromContext(ctx).Warnf("post-link hook of %s failed: %v", rec.Name, err)
		return nil
	}
	return err
}

func (e *Executor) runPreUnlink(ctx context.Context, rec *index.PackageRecord, prefix string) error {
	if e.hooks == nil {
		return nil
	}
	err := e.hooks.PreUnlink(ctx, rec, prefix)
	if err != nil && !e.RequiredHooks[rec.Name] {
		clog.FromContext(ctx).Warnf("pre-unlink hook of %s failed: %v", rec.Name, err)
		return nil
	}
	return err
}
