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

package index

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// Channel is one configured package source. Subdirs are the platform
// directories to read ("linux-64", "noarch"); each holds a repodata.json.
type Channel struct {
	Name    string
	BaseURL string
	Subdirs []string
}

// Fetcher loads channel indexes, caching repodata on disk with a max
// age so repeated invocations do not hammer the repository.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	// MaxAge is how long a cached index stays fresh. Zero means 4 hours.
	MaxAge time.Duration
}

// NewFetcher returns a Fetcher caching under cacheDir. A nil client gets
// a retrying default.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if client == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = 3
		rc.Logger = nil
		client = rc.StandardClient()
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch loads every subdir index of a channel, concurrently, and returns
// the merged records. Local channels (plain directory paths) are read
// straight from disk.
func (f *Fetcher) Fetch(ctx context.Context, ch Channel) ([]*PackageRecord, error) {
	ctx, span := otel.Tracer("reef").Start(ctx, "Fetcher.Fetch")
	defer span.End()

	subdirs := ch.Subdirs
	if len(subdirs) == 0 {
		subdirs = []string{"noarch"}
	}

	results := make([][]*PackageRecord, len(subdirs))
	g, ctx := errgroup.WithContext(ctx)
	for i, subdir := range subdirs {
		g.Go(func() error {
			recs, err := f.fetchSubdir(ctx, ch, subdir)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*PackageRecord
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

func (f *Fetcher) fetchSubdir(ctx context.Context, ch Channel, subdir string) ([]*PackageRecord, error) {
	base := strings.TrimSuffix(ch.BaseURL, "/") + "/" + subdir

	if !strings.Contains(ch.BaseURL, "://") {
		// local channel
		return LoadRepoDataFile(filepath.Join(ch.BaseURL, subdir, "repodata.json"), ch.Name, base)
	}

	path, err := f.ensureIndex(ctx, ch, subdir, base+"/repodata.json")
	if err != nil {
		return nil, err
	}
	return LoadRepoDataFile(path, ch.Name, base)
}

// ensureIndex downloads the subdir index unless a fresh cached copy
// exists.
func (f *Fetcher) ensureIndex(ctx context.Context, ch Channel, subdir, url string) (string, error) {
	log := clog.FromContext(ctx)

	maxAge := f.MaxAge
	if maxAge == 0 {
		maxAge = 4 * time.Hour
	}
	dir := filepath.Join(f.cacheDir, "indexes", ch.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, subdir+".json")

	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < maxAge {
		log.Debugf("using cached index for %s/%s", ch.Name, subdir)
		return path, nil
	}

	log.Infof("fetching index %s", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching index %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// a stale cached copy beats a hard failure
		if _, statErr := os.Stat(path); statErr == nil {
			log.Warnf("index %s returned status %d, using stale cache", url, resp.StatusCode)
			return path, nil
		}
		return "", fmt.Errorf("fetching index %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
