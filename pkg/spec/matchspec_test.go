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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMatchSpec(t *testing.T) {
	t.Run("bare name", func(t *testing.T) {
		m, err := ParseMatchSpec("numpy")
		require.NoError(t, err)
		require.Equal(t, "numpy", m.Name)
		require.Empty(t, m.Constraints)
		require.Empty(t, m.Channel)
	})

	t.Run("single constraint", func(t *testing.T) {
		m, err := ParseMatchSpec("numpy>=1.21")
		require.NoError(t, err)
		require.Equal(t, "numpy", m.Name)
		require.Len(t, m.Constraints, 1)
		require.Equal(t, OpGreaterEqual, m.Constraints[0].Op)
	})

	t.Run("conjunctive constraints with whitespace", func(t *testing.T) {
		m, err := ParseMatchSpec("python >= 3.9 , < 3.12")
		require.NoError(t, err)
		require.Equal(t, "python", m.Name)
		require.Len(t, m.Constraints, 2)
		require.Equal(t, OpGreaterEqual, m.Constraints[0].Op)
		require.Equal(t, OpLess, m.Constraints[1].Op)
	})

	t.Run("channel prefix", func(t *testing.T) {
		m, err := ParseMatchSpec("conda-forge::scipy=1.9")
		require.NoError(t, err)
		require.Equal(t, "conda-forge", m.Channel)
		require.Equal(t, "scipy", m.Name)
		require.Len(t, m.Constraints, 1)
	})

	t.Run("version and build triple", func(t *testing.T) {
		m, err := ParseMatchSpec("numpy=1.21.0=py39_0")
		require.NoError(t, err)
		require.Equal(t, "numpy", m.Name)
		require.Len(t, m.Constraints, 1)
		require.Equal(t, OpEqual, m.Constraints[0].Op)
		require.Equal(t, "py39_0", m.Build)
	})

	t.Run("build number", func(t *testing.T) {
		m, err := ParseMatchSpec("numpy=1.21.0=2")
		require.NoError(t, err)
		require.True(t, m.HasBuildNum)
		require.Equal(t, 2, m.BuildNumber)
	})

	t.Run("wildcard", func(t *testing.T) {
		m, err := ParseMatchSpec("python=3.9.*")
		require.NoError(t, err)
		require.Len(t, m.Constraints, 1)
		require.Equal(t, OpPrefix, m.Constraints[0].Op)
	})

	t.Run("fuzzy", func(t *testing.T) {
		m, err := ParseMatchSpec("requests~=2.28.1")
		require.NoError(t, err)
		require.Len(t, m.Constraints, 1)
		require.Equal(t, OpCompatible, m.Constraints[0].Op)
	})
}

func TestParseMatchSpecErrors(t *testing.T) {
	cases := []struct {
		text string
		kind ParseErrorKind
	}{
		{"", InvalidName},
		{">=1.0", InvalidName},
		{"::numpy", InvalidName},
		{"numpy=>1.0", InvalidVersionOperator},
		{"numpy>=1.0,", UnterminatedConstraint},
		{"numpy>=", UnterminatedConstraint},
		{"numpy=1.0=", UnterminatedConstraint},
	}
	for _, tc := range cases {
		_, err := ParseMatchSpec(tc.text)
		require.Errorf(t, err, "expected %q to fail", tc.text)
		var parseErr *ParseError
		require.Truef(t, errors.As(err, &parseErr), "expected ParseError for %q", tc.text)
		require.Equalf(t, tc.kind, parseErr.Kind, "wrong kind for %q", tc.text)
	}
}

func TestMatchSpecMatches(t *testing.T) {
	m, err := ParseMatchSpec("numpy>=1.20,<1.23")
	require.NoError(t, err)

	v, err := ParseVersion("1.21.5")
	require.NoError(t, err)
	require.True(t, m.MatchesVersion(v))

	v, err = ParseVersion("1.23.0")
	require.NoError(t, err)
	require.False(t, m.MatchesVersion(v))

	m, err = ParseMatchSpec("numpy=1.21.0=py39*")
	require.NoError(t, err)
	require.True(t, m.MatchesBuild("py39_0", 0))
	require.False(t, m.MatchesBuild("py310_0", 0))

	m, err = ParseMatchSpec("conda-forge::numpy")
	require.NoError(t, err)
	require.True(t, m.MatchesChannel("conda-forge"))
	require.False(t, m.MatchesChannel("defaults"))
}
