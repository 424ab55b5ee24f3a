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

//go:build unix

package index

import (
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// DetectVirtualPackages probes the running platform and returns the
// synthetic records ("__unix", "__linux=<kernel>", "__archspec=<arch>")
// that packages use to constrain where they can be installed.
func DetectVirtualPackages() []*PackageRecord {
	out := []*PackageRecord{
		{Name: "__unix", Version: "0", Build: "0"},
		{Name: "__archspec", Version: "1", Build: runtime.GOARCH},
	}
	if runtime.GOOS == "linux" {
		version := "0"
		var uts unix.Utsname
		if err := unix.Uname(&uts); err == nil {
			version = kernelVersion(unix.ByteSliceToString(uts.Release[:]))
		}
		out = append(out, &PackageRecord{Name: "__linux", Version: version, Build: "0"})
	}
	if runtime.GOOS == "darwin" {
		out = append(out, &PackageRecord{Name: "__osx", Version: "0", Build: "0"})
	}
	return out
}

// kernelVersion trims a uname release like "6.1.0-13-amd64" down to the
// leading dotted numbers so it parses as a version.
func kernelVersion(release string) string {
	end := 0
	for end < len(release) && (release[end] >= '0' && release[end] <= '9' || release[end] == '.') {
		end++
	}
	v := strings.Trim(release[:end], ".")
	if v == "" {
		return "0"
	}
	return v
}
