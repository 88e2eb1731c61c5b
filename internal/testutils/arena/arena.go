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

// Package arena builds byte buffers with a known address layout so that
// allocator tests get the same padding on every run.
package arena

import "github.com/cloudwego/memmgr/unsafex"

// Buffer returns size bytes whose first byte address is congruent to
// residue modulo mod. mod must be a power of two and residue < mod.
func Buffer(size int, mod, residue uintptr) []byte {
	if !unsafex.IsPow2(mod) || residue >= mod {
		panic("arena: bad modulus or residue")
	}
	raw := make([]byte, size+2*int(mod))
	off := int(unsafex.AlignedDistance(unsafex.SliceAddr(raw), mod) + residue)
	return raw[off : off+size : off+size]
}

// Alignment returns the alignment a buffer from Buffer(_, mod, residue) is
// guaranteed to have.
func Alignment(mod, residue uintptr) uint16 {
	if residue == 0 {
		return uint16(mod)
	}
	return uint16(residue & -residue)
}
