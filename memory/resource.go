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
	"errors"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/memmgr/unsafex"
)

var (
	ErrNilResource      = errors.New("memory: nil resource")
	ErrResourceBound    = errors.New("memory: resource already bound to a manager")
	ErrResourceTooSmall = errors.New("memory: resource too small")
	ErrResourceClosed   = errors.New("memory: resource closed")
)

// GrowthType tells how a resource may grow. Only NonGrowable is implemented.
type GrowthType uint8

const (
	NonGrowable GrowthType = iota
	CommitAll
	CommitOnRequest
)

func (g GrowthType) String() string {
	switch g {
	case NonGrowable:
		return "non-growable"
	case CommitAll:
		return "commit-all"
	case CommitOnRequest:
		return "commit-on-request"
	}
	return "unknown"
}

// Resource is a contiguous buffer of fixed size a Manager allocates from.
// A resource is bound to at most one manager and must outlive it.
type Resource struct {
	info   Block
	growth GrowthType

	// buf keeps Go-allocated memory reachable, nil for foreign memory.
	buf []byte

	creator  Manager
	assigned Manager

	release func() error
	closed  bool
}

// NewResource wraps buf. alignment is recorded as is, 0 means unknown.
// The caller keeps ownership of buf and must not use it while a manager
// is bound.
func NewResource(buf []byte, alignment uint16) *Resource {
	var p unsafe.Pointer
	if len(buf) > 0 {
		p = unsafe.Pointer(unsafe.SliceData(buf))
	}
	return &Resource{
		info:   MakeBlock(p, uint64(len(buf)), alignment),
		growth: NonGrowable,
		buf:    buf,
	}
}

// NewFixedResource allocates a size bytes resource aligned to
// DefaultAlignment. The memory is not zeroed.
func NewFixedResource(size int) *Resource {
	return NewAlignedResource(size, DefaultAlignment)
}

// NewAlignedResource allocates a size bytes resource whose first byte is
// aligned to alignment, which must be a power of two. The memory is not
// zeroed.
func NewAlignedResource(size int, alignment uint16) *Resource {
	if size < 0 {
		panic(fmt.Sprintf("memory: negative resource size %d", size))
	}
	if !unsafex.IsPow2(uintptr(alignment)) {
		panic(fmt.Sprintf("memory: resource alignment must be a power of two, got %d", alignment))
	}
	n := size + int(alignment) - 1
	raw := dirtmake.Bytes(n, n)
	off := int(unsafex.AlignedDistance(unsafex.SliceAddr(raw), uintptr(alignment)))
	return NewResource(raw[off:off+size:off+size], alignment)
}

// NewPooledResource takes a size bytes buffer from mcache.
// Close gives it back, the resource must not be used afterwards.
func NewPooledResource(size int) *Resource {
	buf := mcache.Malloc(size)
	r := NewResource(buf, addrAlignment(unsafex.SliceAddr(buf)))
	r.release = func() error {
		mcache.Free(buf)
		return nil
	}
	return r
}

// addrAlignment returns the largest power of two dividing addr that fits
// in the alignment field.
func addrAlignment(addr uintptr) uint16 {
	if addr == 0 {
		return 0
	}
	low := addr & -addr
	if low > 1<<15 {
		low = 1 << 15
	}
	return uint16(low)
}

// Info returns the extent of the resource.
func (r *Resource) Info() Block { return r.info }

// Bytes returns the whole buffer.
func (r *Resource) Bytes() []byte { return r.info.Bytes() }

// Size returns the size of the buffer in bytes.
func (r *Resource) Size() uint64 { return r.info.Size() }

// Growth returns the growth type, always NonGrowable.
func (r *Resource) Growth() GrowthType { return r.growth }

// Manager returns the manager bound to r, or nil.
func (r *Resource) Manager() Manager { return r.assigned }

// Creator returns the manager that created r. Resources in this package are
// never created by managers so it's always nil.
func (r *Resource) Creator() Manager { return r.creator }

// Closed reports whether Close has been called.
func (r *Resource) Closed() bool { return r.closed }

// BindToManager records m as the manager of r. It's called once by the
// manager constructors.
func (r *Resource) BindToManager(m Manager) error {
	if r.closed {
		return ErrResourceClosed
	}
	if r.assigned != nil {
		return ErrResourceBound
	}
	r.assigned = m
	return nil
}

// Close releases pooled or mapped memory. It's a no-op for heap and
// caller-provided buffers. Calling Close more than once is safe.
func (r *Resource) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.buf = nil
	if r.release != nil {
		return r.release()
	}
	return nil
}
