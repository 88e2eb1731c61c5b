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
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memmgr/unsafex"
)

func TestNewStack(t *testing.T) {
	_, err := NewStack(nil, nil)
	assert.ErrorIs(t, err, ErrNilResource)

	_, err = NewStack(newTestResource(16, 16, 0), nil)
	assert.ErrorIs(t, err, ErrResourceTooSmall)

	_, err = NewStack(NewResource(nil, 0), nil)
	assert.ErrorIs(t, err, ErrResourceTooSmall)

	r := newTestResource(256, 16, 0)
	m, err := NewStack(r, nil)
	require.NoError(t, err)
	assert.Equal(t, Manager(m), r.Manager())
	assert.Equal(t, r, m.Resource())

	_, err = NewStack(r, nil)
	assert.ErrorIs(t, err, ErrResourceBound)
	_, err = NewBump(r, nil)
	assert.ErrorIs(t, err, ErrResourceBound)
}

func TestStackSkipsUnalignedPrefix(t *testing.T) {
	m := newTestStack(t, 256, 16, 4, nil)
	assert.Equal(t, uint64(12), m.Used())

	res := m.Allocate(8)
	require.Equal(t, NewBlock, res.Code)
	assert.Zero(t, res.Block.Addr()%DefaultAlignment)
	assert.Equal(t, uint64(12+16), offsetOf(m, res.Block))
}

// resource 256, allocate 32, allocate 64 aligned to 32 (needs a padding
// header), free it, then a request that can't fit.
func TestStackScenario(t *testing.T) {
	m := newTestStack(t, 256, 32, 16, nil)

	a := m.Allocate(32)
	require.Equal(t, NewBlock, a.Code)
	assert.Equal(t, uint64(32), a.Block.Size())
	assert.Equal(t, uint16(16), a.Block.Alignment())
	assert.Equal(t, uint64(16), offsetOf(m, a.Block))
	footprint := m.Used()
	assert.Equal(t, uint64(48), footprint)

	b := m.AllocateAligned(64, 32)
	require.Equal(t, NewBlock, b.Code)
	assert.Zero(t, b.Block.Addr()%32)
	assert.Equal(t, uint64(80), offsetOf(m, b.Block))
	assert.Equal(t, uint64(144), m.Used())

	st := m.Stats()
	assert.Equal(t, 3, st.Headers)
	assert.Equal(t, 1, st.Sentries)

	var chain []HeaderInfo
	m.Walk(func(h HeaderInfo) bool {
		chain = append(chain, h)
		return true
	})
	require.Len(t, chain, 3)
	assert.Equal(t, HeaderInfo{Offset: 64, Size: 80, Payload: b.Block.Pointer()}, chain[0])
	assert.Equal(t, HeaderInfo{Offset: 48, Size: 16, Sentry: true, Payload: m.at(64)}, chain[1])
	assert.Equal(t, HeaderInfo{Offset: 0, Size: 48, Payload: a.Block.Pointer()}, chain[2])

	m.Free(b.Block)
	assert.Equal(t, footprint, m.Used())
	st = m.Stats()
	assert.Equal(t, 1, st.Headers)
	assert.Zero(t, st.Sentries)
	assert.Equal(t, m.at(48), st.Next)
	assert.Equal(t, m.at(0), st.Top)

	before := m.Stats()
	assert.Equal(t, OutOfMemory, m.Allocate(200).Code)
	assert.Equal(t, before, m.Stats())

	// the reclaimed span is reused
	c := m.Allocate(16)
	require.Equal(t, NewBlock, c.Code)
	assert.Equal(t, uint64(64), offsetOf(m, c.Block))
}

func TestStackSentryFallThrough(t *testing.T) {
	m := newTestStack(t, 512, 64, 0, nil)

	a := m.Allocate(16)
	require.Equal(t, NewBlock, a.Code)
	footprint := m.Used()
	assert.Equal(t, uint64(32), footprint)

	b := m.AllocateAligned(32, 64) // padding header at 32
	require.Equal(t, NewBlock, b.Code)
	assert.Equal(t, uint64(64), offsetOf(m, b.Block))
	c := m.Allocate(16)
	require.Equal(t, NewBlock, c.Code)
	assert.Equal(t, uint64(128), m.Used())

	m.Free(c.Block)
	assert.Equal(t, uint64(96), m.Used())
	assert.Equal(t, 3, m.Stats().Headers)

	m.Free(b.Block)
	assert.Equal(t, footprint, m.Used())
	assert.Equal(t, 1, m.Stats().Headers)

	d := m.Allocate(16)
	require.Equal(t, NewBlock, d.Code)
	assert.Equal(t, uint64(48), offsetOf(m, d.Block))
}

func TestStackInteriorFree(t *testing.T) {
	m := newTestStack(t, 512, 64, 0, nil)

	a := m.Allocate(16)
	b := m.Allocate(16)
	c := m.Allocate(16)
	require.Equal(t, NewBlock, c.Code)
	used := m.Used()

	// a hole isn't reclaimed until it's exposed
	m.Free(b.Block)
	assert.Equal(t, used, m.Used())
	assert.Equal(t, 1, m.Stats().Sentries)

	m.Free(c.Block)
	assert.Equal(t, uint64(32), m.Used())
	assert.Zero(t, m.Stats().Sentries)

	m.Free(a.Block)
	assert.Zero(t, m.Used())
	st := m.Stats()
	assert.Zero(t, st.Headers)
	assert.Nil(t, st.Top)
	assert.Equal(t, m.at(0), st.Next)
}

func TestStackGrowInPlace(t *testing.T) {
	m := newTestStack(t, 256, 64, 0, nil)

	a := m.Allocate(20)
	require.Equal(t, NewBlock, a.Code)
	assert.Equal(t, uint64(48), m.Used()) // 12 bytes of slack folded into the header

	t.Run("BigEnough", func(t *testing.T) {
		res := m.Reallocate(a.Block, 20)
		assert.Equal(t, CurrentBlockBigEnough, res.Code)
		assert.Equal(t, a.Block, res.Block)
		res = m.Reallocate(a.Block, 1)
		assert.Equal(t, CurrentBlockBigEnough, res.Code)
		assert.Equal(t, a.Block, res.Block)
	})

	t.Run("WithinSlack", func(t *testing.T) {
		res := m.Reallocate(a.Block, 28)
		assert.Equal(t, ContinueCurrentBlock, res.Code)
		assert.Equal(t, a.Block.Pointer(), res.Block.Pointer())
		assert.Equal(t, uint64(28), res.Block.Size())
		assert.Equal(t, uint64(48), m.Used())
	})

	g := m.Reallocate(a.Block, 40)
	require.Equal(t, ContinueCurrentBlock, g.Code)
	assert.Equal(t, a.Block.Pointer(), g.Block.Pointer())
	assert.Equal(t, uint64(40), g.Block.Size())
	assert.Equal(t, uint64(64), m.Used())

	b := m.Allocate(16)
	require.Equal(t, NewBlock, b.Code)
	assert.Equal(t, uint64(80), offsetOf(m, b.Block))
	assert.Equal(t, uint64(96), m.Used())

	// g is buried now: it moves and its old header is abandoned
	moved := m.Reallocate(g.Block, 100)
	require.Equal(t, NewBlock, moved.Code)
	assert.Equal(t, uint64(112), offsetOf(m, moved.Block))
	assert.Equal(t, uint64(224), m.Used())
	assert.Equal(t, 1, m.Stats().Sentries)

	assert.Equal(t, UseAfterFree, m.Reallocate(g.Block, 120).Code)

	m.Free(b.Block)
	m.Free(moved.Block)
	assert.Zero(t, m.Used())
}

func TestStackGrowOutOfMemory(t *testing.T) {
	m := newTestStack(t, 128, 64, 0, nil)
	a := m.Allocate(16)
	require.Equal(t, NewBlock, a.Code)

	before := m.Stats()
	assert.Equal(t, OutOfMemory, m.Reallocate(a.Block, 200).Code)
	assert.Equal(t, before, m.Stats())

	// fills the resource to the last byte, nothing can be staged after it
	res := m.Reallocate(a.Block, 112)
	require.Equal(t, ContinueCurrentBlock, res.Code)
	assert.Equal(t, uint64(128), m.Used())
	assert.Nil(t, m.Stats().Next)
	assert.Equal(t, OutOfMemory, m.Allocate(0).Code)

	m.Free(res.Block)
	assert.Zero(t, m.Used())
	assert.Equal(t, NewBlock, m.Allocate(96).Code)
}

func TestStackBuriedReallocOutOfMemoryKeepsBlock(t *testing.T) {
	m := newTestStack(t, 128, 64, 0, nil)
	a := m.Allocate(16)
	b := m.Allocate(16)
	require.Equal(t, NewBlock, b.Code)

	before := m.Stats()
	assert.Equal(t, OutOfMemory, m.Reallocate(a.Block, 100).Code)
	assert.Equal(t, before, m.Stats())

	// a is still live and can be freed
	c := &collector{}
	m.policy = c
	m.Free(a.Block)
	assert.Empty(t, c.diags)
	assert.Equal(t, 1, m.Stats().Sentries)
}

func TestStackUseAfterFree(t *testing.T) {
	c := &collector{}
	m := newTestStack(t, 256, 64, 0, &Option{Policy: c})

	a := m.Allocate(16)
	b := m.Allocate(16)
	require.Equal(t, NewBlock, b.Code)

	t.Run("Interior", func(t *testing.T) {
		m.Free(a.Block)
		before := m.Stats()
		assert.Equal(t, UseAfterFree, m.Reallocate(a.Block, 64).Code)
		assert.Equal(t, before, m.Stats())
	})

	t.Run("Popped", func(t *testing.T) {
		m.Free(b.Block)
		before := m.Stats()
		assert.Equal(t, UseAfterFree, m.Reallocate(b.Block, 64).Code)
		assert.Equal(t, before, m.Stats())
	})

	t.Run("DoubleFree", func(t *testing.T) {
		c.diags = nil
		before := m.Stats()
		m.Free(a.Block)
		m.Free(b.Block)
		assert.Equal(t, before, m.Stats())
		assert.Equal(t, 2, c.count(KindBadTag))
	})
}

func TestStackForeignAndBogusBlocks(t *testing.T) {
	c := &collector{}
	m := newTestStack(t, 256, 64, 0, &Option{Policy: c})
	a := m.Allocate(32)
	require.Equal(t, NewBlock, a.Code)
	before := m.Stats()

	foreign := make([]byte, 64)
	fb := MakeBlock(unsafe.Pointer(&foreign[16]), 16, 16)
	assert.Equal(t, WrongManager, m.Reallocate(fb, 64).Code)
	m.Free(fb)
	assert.Equal(t, 2, c.count(KindNotOwned))

	// pointer into the middle of a block
	mid := MakeBlock(unsafe.Add(a.Block.Pointer(), 8), 8, 8)
	assert.Equal(t, Fail, m.Reallocate(mid, 64).Code)
	m.Free(mid)

	// pointer before the first payload
	first := MakeBlock(m.at(0), 8, 8)
	m.Free(first)

	// corrupted tag
	h := m.header(offsetOf(m, a.Block) - headerSize)
	h.tag = 0x12345678
	assert.Equal(t, Fail, m.Reallocate(a.Block, 64).Code)
	m.Free(a.Block)
	h.tag = liveTag

	assert.Equal(t, 5, c.count(KindBadTag))
	assert.Equal(t, before, m.Stats())

	for _, d := range c.diags {
		assert.Equal(t, "stack", d.Manager)
		assert.Equal(t, LevelError, d.Level)
		assert.Contains(t, d.File, "stack_test.go")
	}
}

func TestStackAlignment(t *testing.T) {
	c := &collector{}
	m := newTestStack(t, 4096, 64, 0, &Option{Policy: c})

	for _, align := range []uint16{1, 2, 4, 8, 16, 32, 64, 128, 256} {
		res := m.AllocateAligned(24, align)
		require.Equal(t, NewBlock, res.Code, "align=%d", align)
		assert.Zero(t, res.Block.Addr()%uintptr(align), "align=%d", align)
		assert.Equal(t, align, res.Block.Alignment())
	}
	assert.Empty(t, c.diags)

	before := m.Stats()
	assert.Equal(t, Fail, m.AllocateAligned(8, 0).Code)
	assert.Equal(t, before, m.Stats())
	assert.Equal(t, 1, c.count(KindBadAlignment))

	// payloads are 16-aligned, so one of three consecutive slots is 8 bytes
	// short of a multiple of 24 and the padding can't hold a header
	for i := 0; i < 3; i++ {
		before = m.Stats()
		pad := unsafex.AlignedDistanceAfter(uintptr(before.Next), headerSize, 24)
		if pad != 0 && pad < headerSize {
			assert.Equal(t, Fail, m.AllocateAligned(8, 24).Code)
			assert.Equal(t, before, m.Stats())
			assert.Equal(t, 2, c.count(KindBadAlignment))
			return
		}
		require.Equal(t, NewBlock, m.Allocate(0).Code)
	}
	t.Fatal("no slot needed a short padding")
}

func TestStackEmptyBlockAtEnd(t *testing.T) {
	m := newTestStack(t, 128, 64, 0, nil)
	require.Equal(t, NewBlock, m.Allocate(48).Code)
	before := m.Stats()

	// a 64-aligned payload would start right at the end
	assert.Equal(t, OutOfMemory, m.AllocateAligned(0, 64).Code)
	assert.Equal(t, before, m.Stats())

	res := m.Allocate(0)
	require.Equal(t, NewBlock, res.Code)
	assert.True(t, m.IsOwned(res.Block.Pointer()))
	assert.Equal(t, uint64(80), offsetOf(m, res.Block))
}

func TestStackOutOfMemoryIsIdempotent(t *testing.T) {
	m := newTestStack(t, 1024, 64, 0, nil)
	n := 0
	for m.Allocate(40).Code == NewBlock {
		n++
	}
	assert.Equal(t, 16, n) // 64 bytes each, the last one has no room for slack
	assert.Equal(t, uint64(1016), m.Used())

	before := m.Stats()
	for i := 0; i < 3; i++ {
		assert.Equal(t, OutOfMemory, m.Allocate(1).Code)
		assert.Equal(t, OutOfMemory, m.AllocateAligned(1, 64).Code)
	}
	assert.Equal(t, before, m.Stats())
	assert.Equal(t, uint64(1016), before.Peak)
}

func TestStackFallThroughLimit(t *testing.T) {
	c := &collector{}
	m := newTestStack(t, 512, 64, 0, &Option{Policy: c, FallThroughLimit: 2, FallThroughWarn: 1})

	a := m.Allocate(16)
	var bs []Block
	for i := 0; i < 4; i++ {
		res := m.Allocate(16)
		require.Equal(t, NewBlock, res.Code)
		bs = append(bs, res.Block)
	}
	for _, b := range bs[:3] {
		m.Free(b)
	}

	m.Free(bs[3])
	assert.Equal(t, 1, c.count(KindFallThroughLimit))
	assert.Equal(t, uint64(64), m.Used())
	st := m.Stats()
	assert.Equal(t, 2, st.Headers)
	assert.Equal(t, 1, st.Sentries)
	assert.Equal(t, m.at(64), st.Next)

	// the leftover padding is collapsed by the next top free
	m.Free(a.Block)
	x := m.Allocate(16)
	require.Equal(t, NewBlock, x.Code)
	assert.Equal(t, uint64(80), offsetOf(m, x.Block))
	m.Free(x.Block)
	assert.Zero(t, m.Used())
	assert.Equal(t, 1, c.count(KindLongFallThrough))
	assert.Equal(t, LevelWarn, c.diags[len(c.diags)-1].Level)
}

func TestStackResetAndClear(t *testing.T) {
	m := newTestStack(t, 256, 16, 8, nil)
	origin := m.Used()
	res := m.Allocate(64)
	require.Equal(t, NewBlock, res.Code)
	for i := range res.Block.Bytes() {
		res.Block.Bytes()[i] = 0xff
	}
	peak := m.Stats().Peak

	m.Clear()
	assert.Equal(t, origin, m.Used())
	assert.Equal(t, make([]byte, 64), res.Block.Bytes())
	assert.Equal(t, peak, m.Stats().Peak)

	again := m.Allocate(64)
	require.Equal(t, NewBlock, again.Code)
	assert.Equal(t, res.Block, again.Block)

	m.Reset()
	assert.Equal(t, origin, m.Used())
	assert.Zero(t, m.Stats().Headers)
}

func TestStackReturnMemory(t *testing.T) {
	m := newTestStack(t, 256, 16, 0, nil)
	other := newTestBump(t, 256, 16, 0, nil)
	res := m.Allocate(16)
	before := m.Stats()
	m.ReturnMemory(other)
	assert.Equal(t, before, m.Stats())
	assert.True(t, m.Owns(res.Block))
	assert.False(t, other.Owns(res.Block))
}

func BenchmarkStackAllocFree(b *testing.B) {
	m := newTestStack(b, 64*1024, 64, 0, nil)
	blocks := make([]Block, 0, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 64; j++ {
			blocks = append(blocks, m.AllocateAligned(uint32(16+j), uint16(16<<(j%3))).Block)
		}
		for j := len(blocks) - 1; j >= 0; j-- {
			m.Free(blocks[j])
		}
		blocks = blocks[:0]
	}
}
