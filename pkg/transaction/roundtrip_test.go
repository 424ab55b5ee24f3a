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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reefpkg/reef/pkg/env"
	"github.com/reefpkg/reef/pkg/index"
)

// diskCache materializes a trivial payload per package on first use.
type diskCache struct {
	dir string
}

func (c *diskCache) EnsureExtracted(_ context.Context, r *index.PackageRecord) (string, error) {
	dir := filepath.Join(c.dir, r.ID())
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(binDir, r.Name), []byte(r.ID()), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Applying a plan to a real environment and re-reading the installed
// state reproduces the solution exactly.
func TestExecuteRealEnvironmentRoundTrip(t *testing.T) {
	e, err := env.Open(t.TempDir())
	require.NoError(t, err)
	cache := &diskCache{dir: t.TempDir()}

	lib := rec("lib", "1.0")
	app := rec("app", "1.0", "lib")

	plan := NewPlan(solution(lib, app), nil)
	_, err = NewExecutor(cache, e, nil).Execute(context.Background(), plan, e.Root())
	require.NoError(t, err)

	installed, err := e.Installed()
	require.NoError(t, err)
	byName := map[string]*index.PackageRecord{}
	for _, r := range installed {
		byName[r.Name] = r
	}
	require.Len(t, byName, 2)
	require.Equal(t, lib.ID(), byName["lib"].ID())
	require.Equal(t, app.ID(), byName["app"].ID())

	body, err := os.ReadFile(filepath.Join(e.Root(), "bin", "app"))
	require.NoError(t, err)
	require.Equal(t, app.ID(), string(body))

	// upgrading lib and removing app brings the env to the new solution
	libNew := rec("lib", "2.0")
	plan = NewPlan(solution(libNew), installed)
	_, err = NewExecutor(cache, e, nil).Execute(context.Background(), plan, e.Root())
	require.NoError(t, err)

	installed, err = e.Installed()
	require.NoError(t, err)
	require.Len(t, installed, 1)
	require.Equal(t, libNew.ID(), installed[0].ID())

	body, err = os.ReadFile(filepath.Join(e.Root(), "bin", "lib"))
	require.NoError(t, err)
	require.Equal(t, libNew.ID(), string(body))
	_, err = os.Stat(filepath.Join(e.Root(), "bin", "app"))
	require.True(t, os.IsNotExist(err))
}
