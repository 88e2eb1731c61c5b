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
	"fmt"
	"unsafe"
)

const (
	specSizeBits  = 48
	specSizeMask  = 1<<specSizeBits - 1
	maxBlockBytes = specSizeMask
)

// Spec describes the size and alignment of a block.
// Size uses the low 48 bits and alignment the high 16 bits.
type Spec uint64

// NewSpec packs size and alignment. Sizes above 48 bits are truncated.
func NewSpec(size uint64, alignment uint16) Spec {
	return Spec(size&specSizeMask | uint64(alignment)<<specSizeBits)
}

// Size returns the size in bytes.
func (s Spec) Size() uint64 { return uint64(s) & specSizeMask }

// Alignment returns the alignment in bytes.
func (s Spec) Alignment() uint16 { return uint16(s >> specSizeBits) }

// Block is a pointer with a size and an alignment. It is a descriptor only:
// holding a Block does not keep anything alive or reserved.
//
// Blocks are comparable, two blocks are equal iff pointer, size and
// alignment all match.
type Block struct {
	ptr  unsafe.Pointer
	spec Spec
}

// MakeBlock returns a block descriptor.
func MakeBlock(ptr unsafe.Pointer, size uint64, alignment uint16) Block {
	return Block{ptr: ptr, spec: NewSpec(size, alignment)}
}

// BlockOf returns a block descriptor for ptr with the given spec.
func BlockOf(ptr unsafe.Pointer, spec Spec) Block {
	return Block{ptr: ptr, spec: spec}
}

func (b Block) Pointer() unsafe.Pointer { return b.ptr }
func (b Block) Size() uint64            { return b.spec.Size() }
func (b Block) Alignment() uint16       { return b.spec.Alignment() }
func (b Block) Spec() Spec              { return b.spec }
func (b Block) IsNil() bool             { return b.ptr == nil }
func (b Block) Equal(o Block) bool      { return b == o }

// Addr returns the address of the block.
func (b Block) Addr() uintptr { return uintptr(b.ptr) }

// End returns the address right after the last byte of the block.
func (b Block) End() uintptr { return uintptr(b.ptr) + uintptr(b.Size()) }

// Bytes returns the memory described by b.
// The slice aliases the backing buffer, it's invalid after the block is freed.
func (b Block) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(b.ptr), int(b.Size()))
}

func (b Block) String() string {
	return fmt.Sprintf("{ptr=%#x size=%d align=%d}", uintptr(b.ptr), b.Size(), b.Alignment())
}
