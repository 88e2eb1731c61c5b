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

// DefaultAlignment is the alignment used by Allocate.
const DefaultAlignment = 16

// Manager allocates blocks inside one Resource.
type Manager interface {
	// Allocate is AllocateAligned with DefaultAlignment.
	Allocate(size uint32) Result

	// AllocateAligned returns a block of at least size bytes whose address
	// is a multiple of alignment. It returns OutOfMemory, leaving the
	// manager untouched, if the resource lacks room including padding and
	// bookkeeping.
	AllocateAligned(size uint32, alignment uint16) Result

	// Reallocate grows b, which must come from this manager, to size bytes.
	// It returns CurrentBlockBigEnough with b if b is already large enough.
	// Bytes are never copied: if the result is a NewBlock the caller moves
	// the data itself.
	Reallocate(b Block, size uint32) Result

	// Free gives b back. Managers are not required to reclaim the memory
	// right away. Foreign blocks are reported to the Policy and ignored.
	Free(b Block)

	// ReturnMemory hands memory back to a parent manager. Reserved for
	// composing managers, no-op for Bump and Stack.
	ReturnMemory(top Manager)

	// IsOwned reports whether p is inside the resource.
	IsOwned(p unsafe.Pointer) bool

	// Owns reports whether b was carved from the resource.
	Owns(b Block) bool

	// Resource returns the bound resource.
	Resource() *Resource
}

// manager holds what Bump and Stack share: the bound resource and its range.
type manager struct {
	name     string
	resource *Resource
	info     Block
	base     unsafe.Pointer
	start    uintptr
	end      uintptr
	policy   Policy
}

func (m *manager) init(name string, r *Resource, o *Option, self Manager) error {
	if r == nil {
		return ErrNilResource
	}
	info := r.Info()
	if info.IsNil() || info.Size() <= DefaultAlignment {
		return fmt.Errorf("memory: %s manager needs more than %d bytes, got %d: %w",
			name, DefaultAlignment, info.Size(), ErrResourceTooSmall)
	}
	if err := r.BindToManager(self); err != nil {
		return err
	}
	opt := o.normalize()
	m.name = name
	m.resource = r
	m.info = info
	m.base = info.Pointer()
	m.start = info.Addr()
	m.end = info.End()
	m.policy = opt.Policy
	return nil
}

func (m *manager) IsOwned(p unsafe.Pointer) bool {
	a := uintptr(p)
	return m.start <= a && a < m.end
}

func (m *manager) Owns(b Block) bool { return m.IsOwned(b.Pointer()) }

func (m *manager) Resource() *Resource { return m.resource }

func (m *manager) ReturnMemory(top Manager) {}

func (m *manager) capacity() uint64 { return m.info.Size() }

// at returns the address of off bytes past the start of the resource.
func (m *manager) at(off uint64) unsafe.Pointer {
	return unsafe.Add(m.base, uintptr(off))
}

// offset is the inverse of at, p must be owned.
func (m *manager) offset(p unsafe.Pointer) uint64 {
	return uint64(uintptr(p) - m.start)
}

func (m *manager) report(level Level, kind Kind, p uintptr, format string, args ...interface{}) {
	file, line := callerOutside()
	m.policy.Break(Diagnostic{
		Level:   level,
		Kind:    kind,
		Manager: m.name,
		Pointer: p,
		File:    file,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	})
}

// Stats is a snapshot of a manager's usage.
type Stats struct {
	// Info is the extent of the bound resource.
	Info Block
	// Used is the number of bytes in use, including padding and headers.
	Used uint64
	// Peak is the high-water mark of Used since construction.
	// Reset doesn't clear it.
	Peak uint64
}

// Available returns the number of bytes not in use.
func (s Stats) Available() uint64 { return s.Info.Size() - s.Used }
