//go:build unix

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
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NewMmapResource maps size bytes of anonymous memory. The mapping is page
// aligned and zeroed, and lives outside the Go heap until Close unmaps it.
func NewMmapResource(size int) (*Resource, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: mmap resource size must be positive, got %d: %w", size, ErrResourceTooSmall)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("memory: mmap %d bytes: %w", size, err)
	}
	r := &Resource{
		info:   MakeBlock(unsafe.Pointer(unsafe.SliceData(data)), uint64(size), pageAlignment()),
		growth: NonGrowable,
	}
	r.release = func() error {
		return unix.Munmap(data)
	}
	return r, nil
}

func pageAlignment() uint16 {
	return addrAlignment(uintptr(os.Getpagesize()))
}
