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
	"path"
	"strconv"
	"strings"
)

// ParseErrorKind classifies why a request string failed to parse.
type ParseErrorKind int

const (
	InvalidName ParseErrorKind = iota
	InvalidVersionOperator
	UnterminatedConstraint
)

func (k ParseErrorKind) String() string {
	switch k {
	case InvalidName:
		return "invalid name"
	case InvalidVersionOperator:
		return "invalid version operator"
	case UnterminatedConstraint:
		return "unterminated constraint"
	}
	return "parse error"
}

// ParseError is returned for a malformed request string. Parsing never
// partially succeeds: on error the returned MatchSpec is zero.
type ParseError struct {
	Kind   ParseErrorKind
	Spec   string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parsing %q: %s", e.Spec, e.Kind)
	}
	return fmt.Sprintf("parsing %q: %s: %s", e.Spec, e.Kind, e.Detail)
}

// VersionConstraint is one clause of a conjunctive version expression.
type VersionConstraint struct {
	Op      Operator
	Version Version
}

func (c VersionConstraint) String() string {
	if c.Op == OpPrefix {
		return "=" + c.Version.String() + ".*"
	}
	return c.Op.String() + c.Version.String()
}

// MatchSpec is a parsed package request: a required name plus optional
// version, build and channel restrictions. Grammar:
//
//	[channel::]name[ version_constraints][=build]
//
// where version_constraints is a comma-separated conjunction of
// "<op>version" clauses (operators =, !=, >, >=, <, <=, ~=, and the
// wildcard form "1.2.*"), and build is either a glob over the build
// string or a bare integer matching the build number. The conda-style
// "name=version=build" triple is accepted. Whitespace around operators
// is insignificant. A MatchSpec is immutable once parsed.
type MatchSpec struct {
	Name        string
	Channel     string
	Constraints []VersionConstraint
	Build       string // glob over the build string, empty means any
	BuildNumber int
	HasBuildNum bool

	// Optional marks a constraint that restricts but does not require:
	// a record's "constrains" entries are parsed into optional specs.
	Optional bool

	raw string
}

// String returns the spec as originally written.
func (m MatchSpec) String() string {
	if m.raw != "" {
		return m.raw
	}
	return m.Name
}

func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '-' || c == '_' || c == '+':
		return true
	}
	return false
}

// ParseMatchSpec parses a request string into a MatchSpec. It is a pure
// function: no side effects, and it never returns a partially filled spec
// alongside an error.
func ParseMatchSpec(text string) (MatchSpec, error) {
	m := MatchSpec{raw: strings.TrimSpace(text)}
	rest := m.raw

	if i := strings.Index(rest, "::"); i >= 0 {
		m.Channel = strings.TrimSpace(rest[:i])
		rest = rest[i+2:]
		if m.Channel == "" {
			return MatchSpec{}, &ParseError{Kind: InvalidName, Spec: text, Detail: "empty channel"}
		}
	}

	n := 0
	for n < len(rest) && isNameByte(rest[n]) {
		n++
	}
	m.Name, rest = strings.ToLower(rest[:n]), strings.TrimSpace(rest[n:])
	if m.Name == "" {
		return MatchSpec{}, &ParseError{Kind: InvalidName, Spec: text}
	}
	if rest == "" {
		return m, nil
	}

	// The "name=version=build" triple: exactly one leading '=' with a
	// second '=' splitting version from build.
	if rest[0] == '=' && !strings.HasPrefix(rest, "==") {
		if i := strings.IndexByte(rest[1:], '='); i >= 0 {
			if err := m.parseBuild(text, rest[i+2:]); err != nil {
				return MatchSpec{}, err
			}
			rest = rest[:i+1]
		}
	}

	for _, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return MatchSpec{}, &ParseError{Kind: UnterminatedConstraint, Spec: text, Detail: "empty constraint clause"}
		}
		c, err := parseConstraint(text, clause)
		if err != nil {
			return MatchSpec{}, err
		}
		m.Constraints = append(m.Constraints, c)
	}
	return m, nil
}

func (m *MatchSpec) parseBuild(text, build string) error {
	if build == "" {
		return &ParseError{Kind: UnterminatedConstraint, Spec: text, Detail: "empty build constraint"}
	}
	if num, err := strconv.Atoi(build); err == nil {
		m.BuildNumber = num
		m.HasBuildNum = true
		return nil
	}
	m.Build = build
	return nil
}

var operators = []struct {
	text string
	op   Operator
}{
	{">=", OpGreaterEqual},
	{"<=", OpLessEqual},
	{"!=", OpNotEqual},
	{"~=", OpCompatible},
	{"==", OpEqual},
	{"=", OpEqual},
	{">", OpGreater},
	{"<", OpLess},
}

func parseConstraint(text, clause string) (VersionConstraint, error) {
	op := OpAny
	for _, cand := range operators {
		if strings.HasPrefix(clause, cand.text) {
			op = cand.op
			clause = strings.TrimSpace(clause[len(cand.text):])
			break
		}
	}
	if op == OpAny {
		if !isNameByte(clause[0]) && clause[0] != '*' {
			return VersionConstraint{}, &ParseError{Kind: InvalidVersionOperator, Spec: text, Detail: clause}
		}
		// a bare version means exact match
		op = OpEqual
	}
	if clause == "" {
		return VersionConstraint{}, &ParseError{Kind: UnterminatedConstraint, Spec: text, Detail: "operator with no version"}
	}
	if strings.ContainsAny(clause[:1], "=<>!~") {
		// something like "=>1.2": the first token parsed as "=" leaving an
		// operator character behind
		return VersionConstraint{}, &ParseError{Kind: InvalidVersionOperator, Spec: text, Detail: clause}
	}
	if op == OpEqual && strings.HasSuffix(clause, ".*") {
		op = OpPrefix
		clause = strings.TrimSuffix(clause, ".*")
	}
	v, err := ParseVersion(clause)
	if err != nil {
		return VersionConstraint{}, &ParseError{Kind: UnterminatedConstraint, Spec: text, Detail: err.Error()}
	}
	return VersionConstraint{Op: op, Version: v}, nil
}

// MatchesVersion reports whether v satisfies every version clause.
func (m MatchSpec) MatchesVersion(v Version) bool {
	for _, c := range m.Constraints {
		if !c.Op.satisfies(v, c.Version) {
			return false
		}
	}
	return true
}

// MatchesBuild reports whether a record's build string and build number
// satisfy the spec's build constraint, if any.
func (m MatchSpec) MatchesBuild(build string, buildNumber int) bool {
	if m.HasBuildNum && buildNumber != m.BuildNumber {
		return false
	}
	if m.Build == "" {
		return true
	}
	ok, err := path.Match(m.Build, build)
	if err != nil {
		// invalid glob, fall back to literal comparison
		return m.Build == build
	}
	return ok
}

// MatchesChannel reports whether the record's channel is acceptable.
// An empty channel restriction accepts anything.
func (m MatchSpec) MatchesChannel(channel string) bool {
	return m.Channel == "" || m.Channel == channel
}
