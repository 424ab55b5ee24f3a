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

package spec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// versionRegex is how we recognize a version string before tearing it apart:
// an optional epoch ("2!"), dot/underscore/hyphen separated segments of
// digits and letters, and an optional local suffix ("+foo.1") which is
// carried but never compared.
var versionRegex = regexp.MustCompile(`^(?:([0-9]+)!)?([0-9A-Za-z]+(?:[._-][0-9A-Za-z]+)*)(?:\+([0-9A-Za-z]+(?:[._-][0-9A-Za-z]+)*))?$`)

func init() {
	versionRegex.Longest()
}

type atomKind int

// The order of these matters: a segment missing an atom is padded with a
// zero number, so everything below kindNumber sorts before a plain release
// and everything above it sorts after.
const (
	kindDev atomKind = iota - 4
	kindAlpha
	kindBeta
	kindRC
	kindLiteral // unknown letter runs, compared lexically
	kindNumber
	kindPost
)

type atom struct {
	kind atomKind
	num  int
	str  string
}

var modifierKinds = map[string]atomKind{
	"dev":   kindDev,
	"alpha": kindAlpha,
	"a":     kindAlpha,
	"beta":  kindBeta,
	"b":     kindBeta,
	"rc":    kindRC,
	"pre":   kindRC,
	"c":     kindRC,
	"post":  kindPost,
}

// Version is a parsed, comparable package version.
type Version struct {
	epoch    int
	segments [][]atom
	local    string
	raw      string
}

// String returns the version as originally written.
func (v Version) String() string { return v.raw }

// ParseVersion parses a version string into a Version.
func ParseVersion(version string) (Version, error) {
	parts := versionRegex.FindStringSubmatch(strings.ToLower(version))
	if parts == nil {
		return Version{}, fmt.Errorf("invalid version %q, could not parse", version)
	}
	v := Version{raw: version, local: parts[3]}
	if parts[1] != "" {
		epoch, err := strconv.Atoi(parts[1])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q, epoch is not a number: %w", version, err)
		}
		v.epoch = epoch
	}
	for _, seg := range strings.FieldsFunc(parts[2], func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	}) {
		atoms, err := parseSegment(seg)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", version, err)
		}
		v.segments = append(v.segments, atoms)
	}
	return v, nil
}

// parseSegment splits one segment into alternating digit and letter runs.
func parseSegment(seg string) ([]atom, error) {
	var atoms []atom
	for i := 0; i < len(seg); {
		j := i
		if seg[i] >= '0' && seg[i] <= '9' {
			for j < len(seg) && seg[j] >= '0' && seg[j] <= '9' {
				j++
			}
			num, err := strconv.Atoi(seg[i:j])
			if err != nil {
				return nil, fmt.Errorf("segment %q is not a number: %w", seg[i:j], err)
			}
			atoms = append(atoms, atom{kind: kindNumber, num: num})
		} else {
			for j < len(seg) && (seg[j] < '0' || seg[j] > '9') {
				j++
			}
			run := seg[i:j]
			if kind, ok := modifierKinds[run]; ok {
				atoms = append(atoms, atom{kind: kind})
			} else {
				atoms = append(atoms, atom{kind: kindLiteral, str: run})
			}
		}
		i = j
	}
	if len(atoms) == 0 {
		return nil, fmt.Errorf("empty version segment")
	}
	return atoms, nil
}

const (
	greater = 1
	equal   = 0
	less    = -1
)

var zeroAtom = atom{kind: kindNumber}

func compareAtoms(a, b atom) int {
	if a.kind != b.kind {
		if a.kind > b.kind {
			return greater
		}
		return less
	}
	switch a.kind {
	case kindNumber:
		switch {
		case a.num > b.num:
			return greater
		case a.num < b.num:
			return less
		}
	case kindLiteral:
		return strings.Compare(a.str, b.str)
	}
	return equal
}

func compareSegments(a, b []atom) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		x, y := zeroAtom, zeroAtom
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := compareAtoms(x, y); c != equal {
			return c
		}
	}
	return equal
}

// CompareVersions compares two versions: epoch first, then segments
// pairwise, padding the shorter side with zero so that "1.0" == "1".
func CompareVersions(a, b Version) int {
	switch {
	case a.epoch > b.epoch:
		return greater
	case a.epoch < b.epoch:
		return less
	}
	zeroSegment := []atom{zeroAtom}
	for i := 0; i < len(a.segments) || i < len(b.segments); i++ {
		x, y := zeroSegment, zeroSegment
		if i < len(a.segments) {
			x = a.segments[i]
		}
		if i < len(b.segments) {
			y = b.segments[i]
		}
		if c := compareSegments(x, y); c != equal {
			return c
		}
	}
	return equal
}

// startsWith reports whether actual begins with all of prefix's segments.
// Used for wildcard ("1.2.*") and fuzzy ("~=") matching.
func startsWith(actual, prefix Version) bool {
	if actual.epoch != prefix.epoch {
		return false
	}
	if len(actual.segments) < len(prefix.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if compareSegments(actual.segments[i], seg) != equal {
			return false
		}
	}
	return true
}

// Operator is a version comparison operator in a MatchSpec.
type Operator int

const (
	OpAny Operator = iota
	OpEqual
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpCompatible // ~=, ">= X and startsWith all but X's last segment"
	OpPrefix     // "1.2.*"
)

func (op Operator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpCompatible:
		return "~="
	case OpPrefix:
		return "=*"
	}
	return ""
}

func (op Operator) satisfies(actual, required Version) bool {
	switch op {
	case OpAny:
		return true
	case OpPrefix:
		return startsWith(actual, required)
	case OpCompatible:
		if CompareVersions(actual, required) == less {
			return false
		}
		trimmed := required
		if n := len(required.segments); n > 1 {
			trimmed.segments = required.segments[:n-1]
		}
		return startsWith(actual, trimmed)
	}
	c := CompareVersions(actual, required)
	switch op {
	case OpEqual:
		return c == equal
	case OpNotEqual:
		return c != equal
	case OpGreater:
		return c == greater
	case OpGreaterEqual:
		return c != less
	case OpLess:
		return c == less
	case OpLessEqual:
		return c != greater
	}
	return false
}
