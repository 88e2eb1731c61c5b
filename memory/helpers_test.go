/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memmgr/internal/testutils/arena"
)

// newTestResource returns a resource whose base is congruent to residue
// modulo mod, so padding is the same on every run.
func newTestResource(size int, mod, residue uintptr) *Resource {
	return NewResource(arena.Buffer(size, mod, residue), arena.Alignment(mod, residue))
}

func newTestStack(t testing.TB, size int, mod, residue uintptr, o *Option) *Stack {
	t.Helper()
	m, err := NewStack(newTestResource(size, mod, residue), o)
	require.NoError(t, err)
	return m
}

func newTestBump(t testing.TB, size int, mod, residue uintptr, o *Option) *Bump {
	t.Helper()
	m, err := NewBump(newTestResource(size, mod, residue), o)
	require.NoError(t, err)
	return m
}

// offsetOf returns the offset of b from the start of m's resource.
func offsetOf(m Manager, b Block) uint64 {
	return uint64(b.Addr() - m.Resource().Info().Addr())
}

// collector records diagnostics.
type collector struct {
	diags []Diagnostic
}

func (c *collector) Break(d Diagnostic) { c.diags = append(c.diags, d) }

func (c *collector) count(k Kind) int {
	n := 0
	for _, d := range c.diags {
		if d.Kind == k {
			n++
		}
	}
	return n
}
