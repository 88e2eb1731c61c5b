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
	"unsafe"

	"github.com/cloudwego/memmgr/unsafex"
)

// Bump is a monotonic allocator. Allocation advances a cursor and only the
// most recent allocation can be freed or grown in place; every other free is
// a no-op and its memory stays in use until Reset.
type Bump struct {
	manager

	// cursor is the offset where the next allocation starts (before padding).
	cursor uint64
	// last is the most recent allocation, nil after it was freed.
	last Block
	used uint64
	peak uint64
}

var _ Manager = (*Bump)(nil)

// NewBump binds a Bump manager to r. o may be nil.
func NewBump(r *Resource, o *Option) (*Bump, error) {
	m := &Bump{}
	if err := m.init("bump", r, o, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Allocate is AllocateAligned with DefaultAlignment.
func (m *Bump) Allocate(size uint32) Result {
	return m.AllocateAligned(size, DefaultAlignment)
}

// AllocateAligned implements Manager.
func (m *Bump) AllocateAligned(size uint32, alignment uint16) Result {
	if alignment == 0 {
		m.report(LevelError, KindBadAlignment, 0, "zero alignment")
		return result(Fail)
	}
	capacity := m.capacity()
	if m.used+uint64(size) > capacity {
		return result(OutOfMemory)
	}

	pad := uint64(unsafex.AlignedDistance(m.start+uintptr(m.cursor), uintptr(alignment)))
	used := m.used + pad + uint64(size)
	// an empty block still needs an address inside the resource
	if used > capacity || size == 0 && m.cursor+pad >= capacity {
		return result(OutOfMemory)
	}

	p := m.at(m.cursor + pad)
	m.cursor += pad + uint64(size)
	m.used = used
	m.peak = max(m.peak, used)
	m.last = MakeBlock(p, uint64(size), alignment)
	return Result{Block: m.last, Code: NewBlock}
}

// Reallocate implements Manager. Only the most recent allocation grows in
// place, any other block gets a fresh allocation and its bytes are abandoned.
func (m *Bump) Reallocate(b Block, size uint32) Result {
	if !m.Owns(b) {
		m.report(LevelError, KindNotOwned, b.Addr(), "reallocate of a foreign block")
		return result(WrongManager)
	}
	if uint64(size) <= b.Size() {
		return Result{Block: b, Code: CurrentBlockBigEnough}
	}
	if b != m.last {
		return m.AllocateAligned(size, b.Alignment())
	}

	more := uint64(size) - b.Size()
	if m.used+more > m.capacity() {
		return result(OutOfMemory)
	}
	m.used += more
	m.cursor += more
	m.peak = max(m.peak, m.used)
	m.last = MakeBlock(b.Pointer(), uint64(size), b.Alignment())
	return Result{Block: m.last, Code: ContinueCurrentBlock}
}

// Free implements Manager. It rewinds the cursor only if b is the most
// recent allocation.
func (m *Bump) Free(b Block) {
	if !m.Owns(b) {
		m.report(LevelError, KindNotOwned, b.Addr(), "free of a foreign block")
		return
	}
	if b != m.last {
		return
	}
	// the padding in front of b stays in use
	m.cursor = m.offset(b.Pointer())
	m.used -= b.Size()
	m.last = Block{}
}

// Reset forgets every allocation. Blocks handed out before are invalid.
func (m *Bump) Reset() {
	m.cursor = 0
	m.used = 0
	m.last = Block{}
}

// Clear zeroes the used part of the resource and resets the manager.
func (m *Bump) Clear() {
	clear(unsafe.Slice((*byte)(m.base), int(m.cursor)))
	m.Reset()
}

// Used returns the number of bytes in use, padding included.
func (m *Bump) Used() uint64 { return m.used }

// Last returns the most recent allocation that can still be freed, or a
// nil block.
func (m *Bump) Last() Block { return m.last }

// Stats returns a usage snapshot.
func (m *Bump) Stats() Stats {
	return Stats{Info: m.resource.Info(), Used: m.used, Peak: m.peak}
}
