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

package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/reefpkg/reef/pkg/index"
)

type tarEntry struct {
	name    string
	body    string
	mode    int64
	symlink string
	dir     bool
}

func buildTarZst(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: e.name, Mode: mode}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
		case e.symlink != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.symlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func serveArchive(t *testing.T, data []byte, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRecord(t *testing.T, url, digest string) *index.PackageRecord {
	t.Helper()
	r := &index.PackageRecord{
		Name: "demo", Version: "1.0", Build: "h0",
		URL: url, SHA256: digest,
	}
	require.NoError(t, r.Finalize())
	return r
}

func TestEnsureExtracted(t *testing.T) {
	data := buildTarZst(t, []tarEntry{
		{name: "bin/demo", body: "#!/bin/sh\necho demo\n", mode: 0o755},
		{name: "share/doc.txt", body: "docs"},
		{name: "bin/demo-link", symlink: "demo"},
	})
	srv := serveArchive(t, data, nil)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf(data))

	c, err := New(t.TempDir())
	require.NoError(t, err)
	require.False(t, c.Has(rec))

	dir, err := c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, c.Has(rec))

	body, err := os.ReadFile(filepath.Join(dir, "share", "doc.txt"))
	require.NoError(t, err)
	require.Equal(t, "docs", string(body))

	info, err := os.Stat(filepath.Join(dir, "bin", "demo"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dir, "bin", "demo-link"))
	require.NoError(t, err)
	require.Equal(t, "demo", link)
}

func TestEnsureExtractedCachesDownload(t *testing.T) {
	data := buildTarZst(t, []tarEntry{{name: "f", body: "x"}})
	var hits atomic.Int64
	srv := serveArchive(t, data, &hits)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf(data))

	c, err := New(t.TempDir())
	require.NoError(t, err)

	first, err := c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)
	second, err := c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int64(1), hits.Load())

	// dropping the payload keeps the archive, so no refetch
	require.NoError(t, c.Release(rec))
	require.False(t, c.Has(rec))
	_, err = c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())
}

func TestEnsureExtractedDigestMismatch(t *testing.T) {
	data := buildTarZst(t, []tarEntry{{name: "f", body: "x"}})
	srv := serveArchive(t, data, nil)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf([]byte("something else")))

	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.EnsureExtracted(context.Background(), rec)
	var mismatch *DigestMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.False(t, c.Has(rec))
}

func TestEnsureExtractedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", "")

	c, err := New(t.TempDir(), WithClient(srv.Client()))
	require.NoError(t, err)
	_, err = c.EnsureExtracted(context.Background(), rec)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.Status)
}

func TestEnsureExtractedNoURL(t *testing.T) {
	rec := testRecord(t, "", "")
	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.EnsureExtracted(context.Background(), rec)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestExpandRejectsTraversal(t *testing.T) {
	data := buildTarZst(t, []tarEntry{{name: "../escape", body: "nope"}})
	srv := serveArchive(t, data, nil)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf(data))

	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.EnsureExtracted(context.Background(), rec)
	require.ErrorContains(t, err, "escapes archive root")
	require.False(t, c.Has(rec))
}

func TestExpandAllowsDotRootEntry(t *testing.T) {
	// GNU tar archives carry a leading "./" entry for the root itself
	data := buildTarZst(t, []tarEntry{
		{name: "./", dir: true, mode: 0o755},
		{name: "./bin/", dir: true, mode: 0o755},
		{name: "./bin/tool", body: "ok", mode: 0o755},
	})
	srv := serveArchive(t, data, nil)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf(data))

	c, err := New(t.TempDir())
	require.NoError(t, err)
	dir, err := c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(dir, "bin", "tool"))
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestClean(t *testing.T) {
	data := buildTarZst(t, []tarEntry{{name: "f", body: "x"}})
	srv := serveArchive(t, data, nil)
	rec := testRecord(t, srv.URL+"/demo.tar.zst", digestOf(data))

	c, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = c.EnsureExtracted(context.Background(), rec)
	require.NoError(t, err)

	require.NoError(t, c.Clean())
	require.False(t, c.Has(rec))
}
