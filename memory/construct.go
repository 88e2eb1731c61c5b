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
	"math"
	"unsafe"
)

// Construct allocates room for a T from m, copies v into it and returns the
// pointer. It returns nil unless the allocation produced a NewBlock, and for
// types too large for a single request.
//
// T must not contain Go pointers: the garbage collector doesn't scan
// resources.
func Construct[T any](m Manager, v T) *T {
	size, ok := requestSize(uint64(unsafe.Sizeof(v)), 1)
	if !ok {
		return nil
	}
	res := m.AllocateAligned(size, uint16(unsafe.Alignof(v)))
	if res.Code != NewBlock {
		return nil
	}
	p := (*T)(res.Block.Pointer())
	*p = v
	return p
}

// Destroy zeroes *p and frees the memory it occupies. p must come from
// Construct on the same manager.
func Destroy[T any](m Manager, p *T) {
	if p == nil {
		return
	}
	var zero T
	b := MakeBlock(unsafe.Pointer(p), uint64(unsafe.Sizeof(zero)), uint16(unsafe.Alignof(zero)))
	if m.Owns(b) {
		*p = zero
	}
	m.Free(b)
}

// ConstructSlice allocates a zeroed []T of length n from m.
// It returns nil unless the allocation produced a NewBlock. A request
// for zero bytes takes nothing from m and returns nil as well.
func ConstructSlice[T any](m Manager, n int) []T {
	if n <= 0 {
		return nil
	}
	var zero T
	size, ok := requestSize(uint64(unsafe.Sizeof(zero)), uint64(n))
	if !ok || size == 0 {
		return nil
	}
	res := m.AllocateAligned(size, uint16(unsafe.Alignof(zero)))
	if res.Code != NewBlock {
		return nil
	}
	s := unsafe.Slice((*T)(res.Block.Pointer()), n)
	clear(s)
	return s
}

// DestroySlice frees a slice returned by ConstructSlice.
func DestroySlice[T any](m Manager, s []T) {
	if cap(s) == 0 {
		return
	}
	var zero T
	s = s[:cap(s)]
	m.Free(MakeBlock(unsafe.Pointer(unsafe.SliceData(s)), uint64(unsafe.Sizeof(zero))*uint64(len(s)), uint16(unsafe.Alignof(zero))))
}

// requestSize is n elements of elem bytes, false if that overflows a request.
func requestSize(elem, n uint64) (uint32, bool) {
	if elem != 0 && n > math.MaxUint32/elem {
		return 0, false
	}
	return uint32(elem * n), true
}
