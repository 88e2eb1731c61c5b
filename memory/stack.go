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

	"github.com/cloudwego/memmgr/unsafex"
)

const (
	// headerSize is the size of the header placed in front of every block.
	headerSize = 16

	// liveTag marks a header whose block is in use.
	liveTag uint32 = 0xDEADBEEF
	// sentryTag marks padding inserted for alignment and freed interior
	// blocks. Both are reclaimed once they become the top of the stack.
	sentryTag uint32 = 0xBEEFDEAD

	// noHeader terminates the chain.
	noHeader = math.MaxUint64

	// maxStackBlock keeps header sizes, which include padding, within 32 bits.
	maxStackBlock = math.MaxUint32 - 2*math.MaxUint16
)

// blockHeader sits right before every payload. Headers are 16-byte aligned.
type blockHeader struct {
	tag  uint32
	size uint32 // header + payload + trailing padding for the next header
	prev uint64 // offset of the previous header, or noHeader
}

type headerState uint8

const (
	// stateCorrupt is a tag that is neither live nor sentry.
	stateCorrupt headerState = iota
	stateLive
	stateSentry
	// stateStale is a header past the frontier, popped by an earlier free.
	stateStale
	// stateInvalid is a pointer that can't follow a header: too close to the
	// start of the resource or misaligned.
	stateInvalid
)

func (h *blockHeader) state() headerState {
	switch h.tag {
	case liveTag:
		return stateLive
	case sentryTag:
		return stateSentry
	}
	return stateCorrupt
}

// Stack is a LIFO allocator. Each block is preceded by a header linking to
// the previous one, the chain from the top header down is the only record of
// the layout.
//
// Freeing the top block reclaims it together with any padding or freed
// blocks directly below it. Freeing any other block only marks it, its space
// comes back once everything above it has been freed.
type Stack struct {
	manager

	// next is the offset where the next header goes, noHeader when the
	// resource is too full to stage one.
	next uint64
	// top is the offset of the most recent header, noHeader when empty.
	top uint64
	// origin is the offset of the first header slot.
	origin uint64
	used   uint64
	peak   uint64

	fallLimit int
	fallWarn  int
}

var _ Manager = (*Stack)(nil)

// NewStack binds a Stack manager to r. o may be nil.
func NewStack(r *Resource, o *Option) (*Stack, error) {
	m := &Stack{}
	if err := m.init("stack", r, o, m); err != nil {
		return nil, err
	}
	opt := o.normalize()
	m.fallLimit = opt.FallThroughLimit
	m.fallWarn = opt.FallThroughWarn
	m.origin = uint64(unsafex.AlignedDistance(m.start, DefaultAlignment))
	m.Reset()
	return m, nil
}

func (m *Stack) header(off uint64) *blockHeader {
	return (*blockHeader)(m.at(off))
}

// inspect locates the header in front of payload p, which must be owned,
// and decodes its state.
func (m *Stack) inspect(p unsafe.Pointer) (uint64, headerState) {
	pos := m.offset(p)
	if pos < m.origin+headerSize {
		return 0, stateInvalid
	}
	off := pos - headerSize
	if (m.start+uintptr(off))%DefaultAlignment != 0 {
		return 0, stateInvalid
	}
	if off >= m.frontier() {
		return off, stateStale
	}
	return off, m.header(off).state()
}

// frontier is the offset right after the last byte in use.
func (m *Stack) frontier() uint64 { return m.used }

// Allocate is AllocateAligned with DefaultAlignment.
func (m *Stack) Allocate(size uint32) Result {
	return m.AllocateAligned(size, DefaultAlignment)
}

// AllocateAligned implements Manager. Alignments above 16 may insert a
// padding header in front of the block's own header.
func (m *Stack) AllocateAligned(size uint32, alignment uint16) Result {
	if alignment == 0 {
		m.report(LevelError, KindBadAlignment, 0, "zero alignment")
		return result(Fail)
	}
	if m.next == noHeader || size > maxStackBlock {
		return result(OutOfMemory)
	}
	capacity := m.capacity()
	if m.used+uint64(size)+headerSize > capacity {
		return result(OutOfMemory)
	}

	pad := uint64(unsafex.AlignedDistanceAfter(m.start+uintptr(m.next), headerSize, uintptr(alignment)))
	if pad != 0 && pad < headerSize {
		m.report(LevelError, KindBadAlignment, m.start+uintptr(m.next),
			"alignment %d needs %d bytes of padding, less than a header", alignment, pad)
		return result(Fail)
	}
	end := m.used + pad + headerSize + uint64(size)
	if end > capacity || size == 0 && end == capacity {
		return result(OutOfMemory)
	}

	off := m.next
	if pad > 0 {
		*m.header(off) = blockHeader{tag: sentryTag, size: uint32(pad), prev: m.top}
		m.top = off
		m.used += pad
		off += pad
	}

	h := m.header(off)
	*h = blockHeader{tag: liveTag, size: size + headerSize, prev: m.top}
	m.top = off
	m.used += headerSize + uint64(size)

	payload := off + headerSize
	slack := m.placeNext(payload + uint64(size))
	h.size += uint32(slack)
	m.used += slack
	m.peak = max(m.peak, m.used)
	return Result{Block: MakeBlock(m.at(payload), uint64(size), alignment), Code: NewBlock}
}

// placeNext stages the next header after from, which must be the frontier.
// It returns the padding between from and the staged header, the caller
// folds it into the top header.
func (m *Stack) placeNext(from uint64) uint64 {
	slack := uint64(unsafex.AlignedDistance(m.start+uintptr(from), DefaultAlignment))
	if from+slack+2*headerSize > m.capacity() {
		m.next = noHeader
		return 0
	}
	m.next = from + slack
	return slack
}

// Reallocate implements Manager. The top block grows in place. A buried
// block is abandoned for a fresh allocation unless the padding it already
// absorbed covers the request.
func (m *Stack) Reallocate(b Block, size uint32) Result {
	if !m.Owns(b) {
		m.report(LevelError, KindNotOwned, b.Addr(), "reallocate of a foreign block")
		return result(WrongManager)
	}
	if uint64(size) <= b.Size() {
		return Result{Block: b, Code: CurrentBlockBigEnough}
	}

	off, state := m.inspect(b.Pointer())
	switch state {
	case stateSentry, stateStale:
		return result(UseAfterFree)
	case stateCorrupt, stateInvalid:
		m.report(LevelError, KindBadTag, b.Addr(), "reallocate of a block without a live header")
		return result(Fail)
	}

	h := m.header(off)
	span := uint64(h.size) - headerSize
	if uint64(size) <= span {
		return Result{Block: MakeBlock(b.Pointer(), uint64(size), b.Alignment()), Code: ContinueCurrentBlock}
	}

	if off != m.top {
		res := m.AllocateAligned(size, b.Alignment())
		if res.Code == NewBlock {
			// a buried block can never grow, stop further attempts
			h.tag = sentryTag
		}
		return res
	}

	more := uint64(size) - span
	if size > maxStackBlock || m.used+more > m.capacity() {
		return result(OutOfMemory)
	}
	h.size += uint32(more)
	m.used += more

	slack := m.placeNext(off + headerSize + uint64(size))
	h.size += uint32(slack)
	m.used += slack
	m.peak = max(m.peak, m.used)
	return Result{Block: MakeBlock(b.Pointer(), uint64(size), b.Alignment()), Code: ContinueCurrentBlock}
}

// Free implements Manager.
func (m *Stack) Free(b Block) {
	if !m.Owns(b) {
		m.report(LevelError, KindNotOwned, b.Addr(), "free of a foreign block")
		return
	}
	off, state := m.inspect(b.Pointer())
	if state != stateLive {
		m.report(LevelError, KindBadTag, b.Addr(), "free of a block without a live header (double free or corruption)")
		return
	}
	h := m.header(off)
	if off != m.top {
		h.tag = sentryTag
		return
	}

	m.used -= uint64(h.size)
	m.top = h.prev

	// collapse padding and freed blocks right below
	deepest, falls, limited := off, 0, false
	for m.top != noHeader {
		t := m.header(m.top)
		if t.state() != stateSentry {
			break
		}
		if falls == m.fallLimit {
			// the rest stays chained below the staged header and is
			// collapsed by the free of the block placed there
			limited = true
			break
		}
		m.used -= uint64(t.size)
		deepest = m.top
		m.top = t.prev
		falls++
	}

	m.next = deepest
	*m.header(deepest) = blockHeader{tag: liveTag, size: headerSize, prev: m.top}

	if limited {
		m.report(LevelError, KindFallThroughLimit, m.start+uintptr(m.top),
			"stopped after collapsing %d padding blocks", falls)
	} else if falls > m.fallWarn {
		m.report(LevelWarn, KindLongFallThrough, b.Addr(), "free collapsed %d padding blocks", falls)
	}
}

// Reset forgets every allocation. Blocks handed out before are invalid.
func (m *Stack) Reset() {
	m.top = noHeader
	m.used = m.origin
	m.next = noHeader
	if m.origin+2*headerSize <= m.capacity() {
		m.next = m.origin
		*m.header(m.next) = blockHeader{tag: liveTag, size: headerSize, prev: noHeader}
	}
}

// Clear zeroes the used part of the resource and resets the manager.
func (m *Stack) Clear() {
	clear(unsafe.Slice((*byte)(m.at(m.origin)), int(m.used-m.origin)))
	m.Reset()
}

// Used returns the number of bytes in use, headers and padding included.
func (m *Stack) Used() uint64 { return m.used }

// HeaderInfo describes one header of the chain.
type HeaderInfo struct {
	// Offset of the header from the start of the resource.
	Offset uint64
	// Size covers the header, the payload and trailing padding.
	Size uint32
	// Sentry is true for padding and freed blocks.
	Sentry bool
	// Payload is the address right after the header.
	Payload unsafe.Pointer
}

// Walk calls fn for each header from the top of the stack down, until fn
// returns false. A chain that doesn't strictly descend stops the walk.
func (m *Stack) Walk(fn func(HeaderInfo) bool) {
	prev := uint64(noHeader)
	for off := m.top; off != noHeader && off < prev; {
		h := m.header(off)
		info := HeaderInfo{
			Offset:  off,
			Size:    h.size,
			Sentry:  h.state() != stateLive,
			Payload: m.at(off + headerSize),
		}
		if !fn(info) {
			return
		}
		prev, off = off, h.prev
	}
}

// StackStats is Stats plus the state of the header chain.
type StackStats struct {
	Stats
	// Next is where the next header goes, nil if the stack is full.
	Next unsafe.Pointer
	// Top is the most recent header, nil if the stack is empty.
	Top      unsafe.Pointer
	Headers  int
	Sentries int
}

// Stats returns a usage snapshot.
func (m *Stack) Stats() StackStats {
	st := StackStats{Stats: Stats{Info: m.resource.Info(), Used: m.used, Peak: m.peak}}
	if m.next != noHeader {
		st.Next = m.at(m.next)
	}
	if m.top != noHeader {
		st.Top = m.at(m.top)
	}
	m.Walk(func(h HeaderInfo) bool {
		st.Headers++
		if h.Sentry {
			st.Sentries++
		}
		return true
	})
	return st
}
