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

package solver

import (
	satsolver "github.com/crillab/gophersat/solver"
)

// Backend is the narrow surface we require from a boolean clause solver.
// Clauses are in DIMACS convention: positive and negative non-zero
// literals, variables numbered from 1. Any conforming SAT/SMT engine can
// be substituted; everything engine-specific stays behind this interface.
type Backend interface {
	// Solve reports whether the clause set is satisfiable. When it is,
	// model[v-1] is the assignment of variable v (the model may be
	// shorter than the variable count if trailing variables are
	// unconstrained; treat missing entries as false).
	Solve(clauses [][]int) (model []bool, sat bool)
}

type gophersatBackend struct{}

// NewBackend returns the default Backend, backed by gophersat.
func NewBackend() Backend { return gophersatBackend{} }

func (gophersatBackend) Solve(clauses [][]int) ([]bool, bool) {
	if len(clauses) == 0 {
		return nil, true
	}
	s := satsolver.New(satsolver.ParseSlice(clauses))
	if s.Solve() != satsolver.Sat {
		return nil, false
	}
	return s.Model(), true
}
