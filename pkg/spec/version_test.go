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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	valid := []string{
		"1", "1.0", "1.0.2", "0.4.1", "2!1.0", "1.0a1", "1.0alpha2",
		"1.0.dev3", "1.0rc1", "1.0post1", "2.7.15", "1.0+cuda11",
		"2024.1", "1.1.1w",
	}
	for _, v := range valid {
		_, err := ParseVersion(v)
		require.NoErrorf(t, err, "expected %q to parse", v)
	}

	invalid := []string{"", "!", "1..0", "1.0!", "not a version", "=1.0"}
	for _, v := range invalid {
		_, err := ParseVersion(v)
		require.Errorf(t, err, "expected %q to fail", v)
	}
}

func TestCompareVersions(t *testing.T) {
	// each pair is expected to satisfy a < b
	ordered := [][2]string{
		{"1.0", "2.0"},
		{"1.0", "1.0.1"},
		{"1.0.1", "1.1"},
		{"0.9.9", "1.0"},
		{"1.0a1", "1.0"},
		{"1.0a1", "1.0a2"},
		{"1.0a2", "1.0b1"},
		{"1.0b1", "1.0rc1"},
		{"1.0rc1", "1.0"},
		// conda's documented example: 1.1a1 < 1.1.0dev1 == 1.1dev1; the
		// trailing alpha sorts below the dev segment of the next position
		{"1.0a1", "1.0.dev1"},
		{"1.0", "1.0post1"},
		{"1.0", "2!0.1"},
		{"1.1.1a", "1.1.1b"},
		{"2.7", "2.7.15"},
	}
	for _, pair := range ordered {
		a, err := ParseVersion(pair[0])
		require.NoError(t, err)
		b, err := ParseVersion(pair[1])
		require.NoError(t, err)
		require.Equalf(t, less, CompareVersions(a, b), "expected %s < %s", pair[0], pair[1])
		require.Equalf(t, greater, CompareVersions(b, a), "expected %s > %s", pair[1], pair[0])
	}

	equals := [][2]string{
		{"1.0", "1.0"},
		{"1.0", "1"},
		{"1.0.0", "1"},
		{"1.0", "1_0"},
	}
	for _, pair := range equals {
		a, err := ParseVersion(pair[0])
		require.NoError(t, err)
		b, err := ParseVersion(pair[1])
		require.NoError(t, err)
		require.Equalf(t, equal, CompareVersions(a, b), "expected %s == %s", pair[0], pair[1])
	}
}

func TestOperatorSatisfies(t *testing.T) {
	cases := []struct {
		op       Operator
		actual   string
		required string
		want     bool
	}{
		{OpEqual, "1.0", "1.0", true},
		{OpEqual, "1.0.1", "1.0", false},
		{OpNotEqual, "1.0.1", "1.0", true},
		{OpGreaterEqual, "1.0", "1.0", true},
		{OpGreaterEqual, "2.0", "1.0", true},
		{OpGreaterEqual, "0.9", "1.0", false},
		{OpLess, "1.9", "2.0", true},
		{OpLess, "2.0", "2.0", false},
		{OpPrefix, "1.2.3", "1.2", true},
		{OpPrefix, "1.20.3", "1.2", false},
		{OpCompatible, "1.2.5", "1.2.3", true},
		{OpCompatible, "1.3.0", "1.2.3", false},
		{OpCompatible, "2.0", "1.2.3", false},
		{OpCompatible, "1.2.2", "1.2.3", false},
	}
	for _, tc := range cases {
		a, err := ParseVersion(tc.actual)
		require.NoError(t, err)
		r, err := ParseVersion(tc.required)
		require.NoError(t, err)
		require.Equalf(t, tc.want, tc.op.satisfies(a, r), "%s %s %s", tc.actual, tc.op, tc.required)
	}
}
