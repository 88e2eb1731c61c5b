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

// Package unsafex contains the address arithmetic shared by the managers.
//
// All functions work on integer addresses (uintptr) or offsets, never on
// unsafe.Pointer, so callers decide when an address becomes a pointer again.
package unsafex

import "unsafe"

// AlignedDistance returns how many bytes must be skipped from p so the
// result is a multiple of align. align must not be zero.
func AlignedDistance(p, align uintptr) uintptr {
	return (align - p%align) % align
}

// AlignedDistanceAfter is AlignedDistance for the address right after a
// record of n bytes placed at p. It is used to find the padding needed in
// front of a header so that the payload following it is aligned.
func AlignedDistanceAfter(p, n, align uintptr) uintptr {
	return (align - (p+n)%align) % align
}

// Distance returns a - b as a signed value.
func Distance(a, b uintptr) int64 {
	return int64(a) - int64(b)
}

// IsPow2 reports whether x is a non-zero power of two.
func IsPow2(x uintptr) bool {
	return x != 0 && x&(x-1) == 0
}

// SliceAddr returns the address of the first element of b, or 0 for a nil
// or zero-capacity slice.
func SliceAddr(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
