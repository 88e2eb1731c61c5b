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

// Package memory implements managers that carve a fixed backing buffer into
// aligned blocks without going through the Go heap for each allocation.
//
// A Resource owns (or describes) the buffer. A Manager is bound to exactly one
// Resource for its lifetime and hands out Blocks that live inside it:
//
//   - Bump is a monotonic allocator: allocation moves a cursor forward and
//     only the most recent allocation can be given back.
//   - Stack keeps a backward-linked chain of 16-byte headers inside the
//     buffer. It can grow the top allocation in place and reclaims space in
//     LIFO order, collapsing alignment padding and interior holes once they
//     become the top of the stack.
//
// Outcomes are reported through Result codes, never panics. Misuse such as
// freeing a foreign block or a corrupted header is reported to the Policy
// configured in Option; the default policy ignores it.
//
// Managers and resources are not safe for concurrent use.
//
// The backing buffer is not scanned by the garbage collector, so values
// stored in it must not contain Go pointers.
package memory
