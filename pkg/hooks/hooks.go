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

// Package hooks runs package lifecycle scripts. A package ships its
// scripts under etc/reef/hooks/<name>/ inside its payload; after linking
// they are executed from the environment prefix.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/reefpkg/reef/pkg/index"
)

const (
	postLinkScript  = "post-link"
	preUnlinkScript = "pre-unlink"
)

// ScriptError reports a hook script that exited nonzero. The transaction
// layer logs and continues unless the package's hooks are required.
type ScriptError struct {
	Package string
	Script  string
	Output  string
	Cause   error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s hook of %s failed: %v", e.Script, e.Package, e.Cause)
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// Runner executes hook scripts sequentially with a per-script timeout.
type Runner struct {
	// Timeout bounds one script run. Zero means 5 minutes.
	Timeout time.Duration
}

// NewRunner returns a Runner with default settings.
func NewRunner() *Runner { return &Runner{} }

// PostLink runs the package's post-link script, if it ships one.
func (r *Runner) PostLink(ctx context.Context, rec *index.PackageRecord, prefix string) error {
	return r.run(ctx, rec, prefix, postLinkScript)
}

// PreUnlink runs the package's pre-unlink script, if it ships one.
func (r *Runner) PreUnlink(ctx context.Context, rec *index.PackageRecord, prefix string) error {
	return r.run(ctx, rec, prefix, preUnlinkScript)
}

func (r *Runner) run(ctx context.Context, rec *index.PackageRecord, prefix, script string) error {
	path := filepath.Join(prefix, "etc", "reef", "hooks", rec.Name, script)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}

	log := clog.FromContext(ctx)
	log.Debugf("running %s hook of %s", script, rec.Name)

	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", path)
	cmd.Dir = prefix
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Env = append(os.Environ(),
		"REEF_PREFIX="+prefix,
		"REEF_PKG_NAME="+rec.Name,
		"REEF_PKG_VERSION="+rec.Version,
		"REEF_PKG_BUILD="+rec.Build,
	)
	if err := cmd.Run(); err != nil {
		return &ScriptError{
			Package: rec.Name,
			Script:  script,
			Output:  output.String(),
			Cause:   err,
		}
	}
	if output.Len() > 0 {
		log.Debugf("%s hook of %s: %s", script, rec.Name, output.String())
	}
	return nil
}
