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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// repoData is the on-wire shape of a repository index: a channel/subdir
// header plus packages keyed by filename. The wire transport that
// produces the bytes is not our concern, only the parsed records are.
type repoData struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	Packages      map[string]*PackageRecord `json:"packages"`
	CondaPackages map[string]*PackageRecord `json:"packages.conda"`
}

// LoadRepoData parses a repository index, stamping each record with the
// channel it came from and deriving fetch URLs from baseURL for records
// that do not carry one.
func LoadRepoData(r io.Reader, channel, baseURL string) ([]*PackageRecord, error) {
	var data repoData
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding repodata for channel %q: %w", channel, err)
	}

	records := make([]*PackageRecord, 0, len(data.Packages)+len(data.CondaPackages))
	add := func(filename string, rec *PackageRecord) {
		if rec.Name == "" {
			return
		}
		rec.Channel = channel
		if rec.Subdir == "" {
			rec.Subdir = data.Info.Subdir
		}
		if rec.URL == "" && baseURL != "" {
			rec.URL = strings.TrimSuffix(baseURL, "/") + "/" + filename
		}
		records = append(records, rec)
	}
	for filename, rec := range data.Packages {
		add(filename, rec)
	}
	for filename, rec := range data.CondaPackages {
		add(filename, rec)
	}
	return records, nil
}

// LoadRepoDataFile is LoadRepoData over a file on disk.
func LoadRepoDataFile(path, channel, baseURL string) ([]*PackageRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening repodata at %s: %w", path, err)
	}
	defer f.Close()
	return LoadRepoData(f, channel, baseURL)
}
