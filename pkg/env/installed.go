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

package env

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/reefpkg/reef/pkg/index"
)

// InstalledPackage is one entry of the installed database: the package
// record plus the files it owns, relative to the environment prefix.
type InstalledPackage struct {
	Record *index.PackageRecord

	// Files are the owned paths in link order. Digests maps a file to the
	// xxhash of its content at link time, used to detect local tampering.
	Files   []string
	Digests map[string]string
}

// The installed database is a token-per-line text file, one stanza per
// package, stanzas separated by a blank line:
//
//	P:name          V:version       B:build string   N:build number
//	C:channel       U:origin url    H:sha256
//	D:dependency    (repeated)      K:constrains     (repeated)
//	F:directory     R:file in that directory
//	Z:xxhash of the preceding R: file
//
// The format is append-friendly, diffable and trivially greppable, which
// matters more here than compactness.

func parseInstalled(r io.Reader) ([]*InstalledPackage, error) {
	var out []*InstalledPackage
	var cur *InstalledPackage
	var curDir string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNo := 0
	flush := func() error {
		if cur == nil {
			return nil
		}
		if cur.Record.Name == "" {
			return fmt.Errorf("installed db: stanza ending at line %d has no P: token", lineNo)
		}
		if err := cur.Record.Finalize(); err != nil {
			return fmt.Errorf("installed db: %w", err)
		}
		out = append(out, cur)
		cur = nil
		curDir = ""
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return nil, fmt.Errorf("installed db line %d: malformed token %q", lineNo, line)
		}
		if cur == nil {
			cur = &InstalledPackage{
				Record:  &index.PackageRecord{},
				Digests: map[string]string{},
			}
		}
		key, val := line[0], line[2:]
		switch key {
		case 'P':
			cur.Record.Name = val
		case 'V':
			cur.Record.Version = val
		case 'B':
			cur.Record.Build = val
		case 'N':
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("installed db line %d: build number %q: %w", lineNo, val, err)
			}
			cur.Record.BuildNumber = n
		case 'C':
			cur.Record.Channel = val
		case 'U':
			cur.Record.URL = val
		case 'H':
			cur.Record.SHA256 = val
		case 'D':
			cur.Record.Depends = append(cur.Record.Depends, val)
		case 'K':
			cur.Record.Constrains = append(cur.Record.Constrains, val)
		case 'F':
			curDir = val
		case 'R':
			name := val
			if curDir != "" {
				name = curDir + "/" + val
			}
			cur.Files = append(cur.Files, name)
		case 'Z':
			if len(cur.Files) == 0 {
				return nil, fmt.Errorf("installed db line %d: Z: token without a preceding R:", lineNo)
			}
			cur.Digests[cur.Files[len(cur.Files)-1]] = val
		default:
			// unknown tokens are skipped so older builds can read newer dbs
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeInstalled(w io.Writer, pkgs []*InstalledPackage) error {
	bw := bufio.NewWriter(w)
	for _, pkg := range pkgs {
		rec := pkg.Record
		fmt.Fprintf(bw, "P:%s\n", rec.Name)
		fmt.Fprintf(bw, "V:%s\n", rec.Version)
		fmt.Fprintf(bw, "B:%s\n", rec.Build)
		fmt.Fprintf(bw, "N:%d\n", rec.BuildNumber)
		if rec.Channel != "" {
			fmt.Fprintf(bw, "C:%s\n", rec.Channel)
		}
		if rec.URL != "" {
			fmt.Fprintf(bw, "U:%s\n", rec.URL)
		}
		if rec.SHA256 != "" {
			fmt.Fprintf(bw, "H:%s\n", rec.SHA256)
		}
		for _, dep := range rec.Depends {
			fmt.Fprintf(bw, "D:%s\n", dep)
		}
		for _, con := range rec.Constrains {
			fmt.Fprintf(bw, "K:%s\n", con)
		}
		writeFileTokens(bw, pkg)
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// writeFileTokens groups files by directory, emitting one F: token per
// directory followed by its R:/Z: pairs.
func writeFileTokens(w io.Writer, pkg *InstalledPackage) {
	byDir := map[string][]string{}
	var dirs []string
	for _, file := range pkg.Files {
		dir := filepath.Dir(file)
		if dir == "." {
			dir = ""
		}
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}
		byDir[dir] = append(byDir[dir], file)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		if dir != "" {
			fmt.Fprintf(w, "F:%s\n", dir)
		}
		files := byDir[dir]
		sort.Strings(files)
		for _, file := range files {
			fmt.Fprintf(w, "R:%s\n", filepath.Base(file))
			if z, ok := pkg.Digests[file]; ok {
				fmt.Fprintf(w, "Z:%s\n", z)
			}
		}
	}
}

// loadInstalled reads the database file; a missing file is an empty
// environment.
func loadInstalled(path string) ([]*InstalledPackage, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseInstalled(f)
}

// saveInstalled writes the database atomically via rename.
func saveInstalled(path string, pkgs []*InstalledPackage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".installed-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := writeInstalled(tmp, pkgs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
