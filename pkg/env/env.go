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

// Package env manages a target prefix: the linked package payloads, the
// installed database that records them, the transaction history and the
// advisory lock serializing mutators.
package env

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"

	"github.com/reefpkg/reef/pkg/index"
)

// metaDir holds the environment's bookkeeping, inside the prefix so the
// environment is self-describing and relocatable as a unit.
const metaDir = ".reef"

// Environment is a handle on one target prefix. Mutating methods assume
// the caller holds the environment lock; see Acquire.
type Environment struct {
	root string
}

// Open returns a handle on the environment rooted at prefix, creating
// the bookkeeping directory if needed.
func Open(prefix string) (*Environment, error) {
	abs, err := filepath.Abs(prefix)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("opening environment: %w", err)
	}
	return &Environment{root: abs}, nil
}

// Root returns the environment prefix.
func (e *Environment) Root() string { return e.root }

func (e *Environment) installedPath() string {
	return filepath.Join(e.root, metaDir, "installed")
}

// Installed returns the installed package records.
func (e *Environment) Installed() ([]*index.PackageRecord, error) {
	pkgs, err := loadInstalled(e.installedPath())
	if err != nil {
		return nil, err
	}
	out := make([]*index.PackageRecord, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, pkg.Record)
	}
	return out, nil
}

// InstalledDetail returns the installed database entries with file
// ownership.
func (e *Environment) InstalledDetail() ([]*InstalledPackage, error) {
	return loadInstalled(e.installedPath())
}

// Link copies a package payload into the prefix and records ownership in
// the installed database. The copy happens before the database update,
// so a crash leaves either a fully recorded package or stray files that
// the next link of the same package overwrites.
func (e *Environment) Link(ctx context.Context, rec *index.PackageRecord, payload string) error {
	ctx, span := otel.Tracer("reef").Start(ctx, "Environment.Link")
	defer span.End()
	log := clog.FromContext(ctx)

	pkgs, err := loadInstalled(e.installedPath())
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		if pkg.Record.Name == rec.Name {
			return fmt.Errorf("linking %s: %s is already installed", rec.ID(), pkg.Record.ID())
		}
	}

	entry := &InstalledPackage{Record: rec, Digests: map[string]string{}}
	err = filepath.WalkDir(payload, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(payload, path)
		if err != nil {
			return err
		}
		if rel == "." || strings.HasPrefix(filepath.Base(rel), ".reef-") {
			return nil
		}
		target := filepath.Join(e.root, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := copyEntry(path, target, d); err != nil {
			return err
		}
		entry.Files = append(entry.Files, filepath.ToSlash(rel))
		if d.Type().IsRegular() {
			z, err := fileDigest(target)
			if err != nil {
				return err
			}
			entry.Digests[filepath.ToSlash(rel)] = z
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("linking %s: %w", rec.ID(), err)
	}

	log.Debugf("linked %s: %d files", rec.ID(), len(entry.Files))
	pkgs = append(pkgs, entry)
	return saveInstalled(e.installedPath(), pkgs)
}

// Unlink removes a package's files from the prefix and drops it from the
// installed database. Files whose content changed since link time are
// left in place with a warning rather than destroying local edits.
func (e *Environment) Unlink(ctx context.Context, rec *index.PackageRecord) error {
	ctx, span := otel.Tracer("reef").Start(ctx, "Environment.Unlink")
	defer span.End()
	log := clog.FromContext(ctx)

	pkgs, err := loadInstalled(e.installedPath())
	if err != nil {
		return err
	}
	found := -1
	for i, pkg := range pkgs {
		if pkg.Record.Name == rec.Name && index.SameIdentity(pkg.Record, rec) {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("unlinking %s: not installed", rec.ID())
	}
	entry := pkgs[found]

	// files also owned by a surviving package stay on disk
	shared := map[string]bool{}
	for i, pkg := range pkgs {
		if i == found {
			continue
		}
		for _, file := range pkg.Files {
			shared[file] = true
		}
	}

	dirs := map[string]bool{}
	for _, file := range entry.Files {
		if shared[file] {
			log.Debugf("keeping %s, still owned by another package", file)
			continue
		}
		target := filepath.Join(e.root, filepath.FromSlash(file))
		if want, ok := entry.Digests[file]; ok {
			got, err := fileDigest(target)
			if err == nil && got != want {
				log.Warnf("keeping locally modified file %s", file)
				continue
			}
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlinking %s: %w", rec.ID(), err)
		}
		dirs[filepath.Dir(target)] = true
	}
	pruneEmptyDirs(e.root, dirs)

	log.Debugf("unlinked %s", rec.ID())
	pkgs = append(pkgs[:found], pkgs[found+1:]...)
	return saveInstalled(e.installedPath(), pkgs)
}

func copyEntry(src, dst string, d fs.DirEntry) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if d.Type()&fs.ModeSymlink != 0 {
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return err
		}
		return os.Symlink(link, dst)
	}
	info, err := d.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// fileDigest returns the xxhash of a file's content as a hex string.
// xxhash rather than a cryptographic hash: this detects accidental local
// modification, integrity against the repository is the sha256 check at
// download time.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// pruneEmptyDirs removes now-empty directories bottom-up, stopping at
// the prefix root and never touching the bookkeeping directory.
func pruneEmptyDirs(root string, dirs map[string]bool) {
	for dir := range dirs {
		for dir != root && strings.HasPrefix(dir, root) {
			if filepath.Base(dir) == metaDir {
				break
			}
			if err := os.Remove(dir); err != nil {
				break // not empty or gone
			}
			dir = filepath.Dir(dir)
		}
	}
}
