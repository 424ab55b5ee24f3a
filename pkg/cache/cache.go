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

// Package cache maintains the local store of downloaded package archives
// and their extracted payloads. Archives are verified against the index
// digest before extraction, extraction is atomic (temp dir plus rename),
// and concurrent requests for the same package are coalesced.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/reefpkg/reef/pkg/index"
)

// FetchError reports a failed download. Status is zero when the request
// never produced a response.
type FetchError struct {
	URL    string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// DigestMismatchError reports that a downloaded archive does not match
// the digest recorded in the index. The corrupt download is discarded.
type DigestMismatchError struct {
	ID   string
	Want string
	Got  string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("%s: digest mismatch: want %s, got %s", e.ID, e.Want, e.Got)
}

// Cache is safe for concurrent use.
type Cache struct {
	dir     string
	client  *http.Client
	limiter *rate.Limiter
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClient substitutes the HTTP client, mainly for tests.
func WithClient(c *http.Client) Option {
	return func(cc *Cache) { cc.client = c }
}

// WithRateLimit bounds outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(cc *Cache) { cc.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	for _, sub := range []string{"archives", "extracted"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("initializing cache: %w", err)
		}
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	c := &Cache{
		dir:     dir,
		client:  rc.StandardClient(),
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) archivePath(rec *index.PackageRecord) string {
	return filepath.Join(c.dir, "archives", rec.Filename())
}

func (c *Cache) extractedPath(rec *index.PackageRecord) string {
	return filepath.Join(c.dir, "extracted", rec.ID())
}

// Has reports whether the package payload is already extracted.
func (c *Cache) Has(rec *index.PackageRecord) bool {
	_, err := os.Stat(filepath.Join(c.extractedPath(rec), markerName))
	return err == nil
}

const markerName = ".reef-complete"

// EnsureExtracted returns the directory holding the package's extracted
// payload, downloading, verifying and unpacking the archive first if it
// is not cached. Concurrent calls for the same record share one
// download.
func (c *Cache) EnsureExtracted(ctx context.Context, rec *index.PackageRecord) (string, error) {
	ctx, span := otel.Tracer("reef").Start(ctx, "Cache.EnsureExtracted")
	defer span.End()

	dest := c.extractedPath(rec)
	result, err, _ := c.group.Do(rec.ID(), func() (any, error) {
		if c.Has(rec) {
			return dest, nil
		}
		archive, err := c.ensureArchive(ctx, rec)
		if err != nil {
			return nil, err
		}
		if err := c.extract(ctx, rec, archive, dest); err != nil {
			return nil, err
		}
		return dest, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ensureArchive downloads and digest-checks the package archive unless a
// verified copy is already present.
func (c *Cache) ensureArchive(ctx context.Context, rec *index.PackageRecord) (string, error) {
	log := clog.FromContext(ctx)
	path := c.archivePath(rec)

	if _, err := os.Stat(path); err == nil {
		ok, err := c.verify(path, rec.SHA256)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
		log.Warnf("cached archive %s fails digest check, refetching", rec.Filename())
		if err := os.Remove(path); err != nil {
			return "", err
		}
	}

	if rec.URL == "" {
		return "", &FetchError{URL: rec.Filename(), Cause: fmt.Errorf("record has no URL")}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	log.Infof("downloading %s", rec.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.URL, nil)
	if err != nil {
		return "", &FetchError{URL: rec.URL, Cause: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: rec.URL, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: rec.URL, Status: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, h)); err != nil {
		tmp.Close()
		return "", &FetchError{URL: rec.URL, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if rec.SHA256 != "" {
		got := hex.EncodeToString(h.Sum(nil))
		if got != rec.SHA256 {
			return "", &DigestMismatchError{ID: rec.ID(), Want: rec.SHA256, Got: got}
		}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// verify checks an on-disk archive against a digest. An empty digest
// accepts anything, matching records from indexes that carry none.
func (c *Cache) verify(path, digest string) (bool, error) {
	if digest == "" {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == digest, nil
}

// extract unpacks the archive into dest atomically: a sibling temp dir
// is populated, stamped with a completion marker and renamed into place.
func (c *Cache) extract(ctx context.Context, rec *index.PackageRecord, archive, dest string) error {
	log := clog.FromContext(ctx)
	log.Debugf("extracting %s", rec.ID())

	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := expandArchive(archive, tmp); err != nil {
		return fmt.Errorf("extracting %s: %w", rec.ID(), err)
	}
	if err := os.WriteFile(filepath.Join(tmp, markerName), nil, 0o644); err != nil {
		return err
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// Release removes a package's extracted payload, keeping the verified
// archive for future transactions.
func (c *Cache) Release(rec *index.PackageRecord) error {
	return os.RemoveAll(c.extractedPath(rec))
}

// Clean removes everything, archives included.
func (c *Cache) Clean() error {
	for _, sub := range []string{"archives", "extracted"} {
		if err := os.RemoveAll(filepath.Join(c.dir, sub)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(c.dir, sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}
