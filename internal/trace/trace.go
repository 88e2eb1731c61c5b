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

// Package trace replays allocation traces described in YAML against a
// memory manager.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/memmgr/memory"
	"github.com/cloudwego/memmgr/unsafex"
)

// Operations understood by a trace.
const (
	OpAlloc   = "alloc"
	OpRealloc = "realloc"
	OpFree    = "free"
	OpReset   = "reset"
	OpClear   = "clear"
)

// Backings of the resource.
const (
	BackingFixed  = "fixed"
	BackingPooled = "pooled"
	BackingMmap   = "mmap"
)

// Managers a trace can run against.
const (
	ManagerStack = "stack"
	ManagerBump  = "bump"
)

var ErrInvalid = errors.New("trace: invalid")

// Resource describes the buffer the manager is bound to.
type Resource struct {
	Size int `yaml:"size" toml:"size"`
	// Alignment of the buffer, fixed backing only. 0 means
	// memory.DefaultAlignment.
	Alignment uint16 `yaml:"alignment" toml:"alignment"`
	// Backing is fixed (default), pooled or mmap.
	Backing string `yaml:"backing" toml:"backing"`
}

// Step is a single call.
type Step struct {
	Op string `yaml:"op" toml:"op"`
	// ID names the block an alloc creates, and the one realloc and free act on.
	ID    string `yaml:"id" toml:"id"`
	Size  uint32 `yaml:"size" toml:"size"`
	Align uint16 `yaml:"align" toml:"align"`
	// Expect is the result code the call must return, alloc and realloc only.
	Expect *memory.ResultCode `yaml:"expect" toml:"expect"`
}

// Trace is a scripted sequence of calls on one manager.
type Trace struct {
	Resource Resource `yaml:"resource" toml:"resource"`
	Manager  string   `yaml:"manager" toml:"manager"`
	// Strict asks the runner to stop at the first diagnostic error.
	Strict           bool   `yaml:"strict" toml:"strict"`
	FallThroughLimit int    `yaml:"fall_through_limit" toml:"fall_through_limit"`
	FallThroughWarn  int    `yaml:"fall_through_warn" toml:"fall_through_warn"`
	Steps            []Step `yaml:"steps" toml:"steps"`
}

// LoadFile loads a YAML trace, or a TOML one if path ends in .toml.
func LoadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadTOML(f)
	}
	return Load(f)
}

// LoadTOML is Load for TOML traces.
func LoadTOML(r io.Reader) (*Trace, error) {
	t := &Trace{}
	md, err := toml.NewDecoder(r).Decode(t)
	if err != nil {
		return nil, fmt.Errorf("trace: decode: %w", err)
	}
	if keys := md.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("trace: decode: unknown field %q", keys[0].String())
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load decodes and validates a YAML trace. Unknown fields are errors.
func Load(r io.Reader) (*Trace, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	t := &Trace{}
	if err := dec.Decode(t); err != nil {
		return nil, fmt.Errorf("trace: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the header fields and that every step refers to an id
// allocated earlier in the trace. Freed ids stay known, so a trace can
// replay a double free or a use after free.
func (t *Trace) Validate() error {
	switch t.Manager {
	case ManagerStack, ManagerBump:
	default:
		return invalid("unknown manager %q", t.Manager)
	}
	if t.Resource.Size <= memory.DefaultAlignment {
		return invalid("resource size must be more than %d bytes, got %d", memory.DefaultAlignment, t.Resource.Size)
	}
	switch t.Resource.Backing {
	case "", BackingFixed:
		if a := t.Resource.Alignment; a != 0 && !unsafex.IsPow2(uintptr(a)) {
			return invalid("resource alignment %d is not a power of two", a)
		}
	case BackingPooled, BackingMmap:
		if t.Resource.Alignment != 0 {
			return invalid("resource alignment is only supported by the fixed backing")
		}
	default:
		return invalid("unknown backing %q", t.Resource.Backing)
	}
	if t.FallThroughLimit < 0 || t.FallThroughWarn < 0 {
		return invalid("fall through settings must not be negative")
	}

	// live[id] is false once the block was freed or reset away. Such ids may
	// still be reallocated or freed to replay misuse.
	live := map[string]bool{}
	for i, s := range t.Steps {
		switch s.Op {
		case OpAlloc:
			if s.ID == "" {
				return invalid("step %d: alloc needs an id", i)
			}
			if live[s.ID] {
				return invalid("step %d: id %q is already allocated", i, s.ID)
			}
			live[s.ID] = true
		case OpRealloc, OpFree:
			if _, ok := live[s.ID]; !ok {
				return invalid("step %d: %s of unknown id %q", i, s.Op, s.ID)
			}
			if s.Op == OpFree {
				live[s.ID] = false
			}
		case OpReset, OpClear:
			if s.ID != "" {
				return invalid("step %d: %s takes no id", i, s.Op)
			}
			for id := range live {
				live[id] = false
			}
		default:
			return invalid("step %d: unknown op %q", i, s.Op)
		}
		if s.Expect != nil && s.Op != OpAlloc && s.Op != OpRealloc {
			return invalid("step %d: expect is only valid for alloc and realloc", i)
		}
	}
	return nil
}
