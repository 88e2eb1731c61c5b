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
	"strings"

	"github.com/go-stack/stack"
)

// Level is the severity of a Diagnostic.
type Level uint8

const (
	// LevelWarn marks suspicious but consistent states.
	LevelWarn Level = iota
	// LevelError marks misuse or corruption. The offending call was ignored.
	LevelError
)

func (l Level) String() string {
	if l == LevelWarn {
		return "warn"
	}
	return "error"
}

// Kind classifies a Diagnostic.
type Kind uint8

const (
	// KindNotOwned is a free or reallocate of a block outside the resource.
	KindNotOwned Kind = iota
	// KindBadTag is a header that is not live: double free, a pointer that
	// was never returned by the manager, or a corrupted buffer.
	KindBadTag
	// KindBadAlignment is an alignment the manager cannot satisfy.
	KindBadAlignment
	// KindFallThroughLimit means a free stopped collapsing padding blocks
	// because the chain was longer than Option.FallThroughLimit.
	KindFallThroughLimit
	// KindLongFallThrough means a free collapsed more padding blocks than
	// Option.FallThroughWarn.
	KindLongFallThrough
)

var kindNames = [...]string{
	KindNotOwned:         "not_owned",
	KindBadTag:           "bad_tag",
	KindBadAlignment:     "bad_alignment",
	KindFallThroughLimit: "fall_through_limit",
	KindLongFallThrough:  "long_fall_through",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Diagnostic describes a detected misuse. File and Line point at the first
// caller outside this package.
type Diagnostic struct {
	Level   Level
	Kind    Kind
	Manager string
	Pointer uintptr
	File    string
	Line    int
	Message string
}

// Error implements error so a Diagnostic can be used as a panic value.
func (d Diagnostic) Error() string {
	return fmt.Sprintf("memory: %s manager: %s (%s ptr=%#x at %s:%d)",
		d.Manager, d.Message, d.Kind, d.Pointer, d.File, d.Line)
}

// Policy decides what happens when a manager detects misuse.
// The manager always ignores the offending call after Break returns.
type Policy interface {
	Break(d Diagnostic)
}

// PolicyFunc adapts a func to Policy.
type PolicyFunc func(d Diagnostic)

func (f PolicyFunc) Break(d Diagnostic) { f(d) }

var (
	// IgnorePolicy drops every diagnostic.
	IgnorePolicy Policy = PolicyFunc(func(Diagnostic) {})

	// PanicPolicy panics with the Diagnostic for errors and drops warnings.
	// Use it in tests and debug builds.
	PanicPolicy Policy = PolicyFunc(func(d Diagnostic) {
		if d.Level == LevelError {
			panic(d)
		}
	})
)

const pkgFuncPrefix = "github.com/cloudwego/memmgr/memory."

// callerOutside returns the first frame that is not part of this package
// (test files count as outside).
func callerOutside() (string, int) {
	for _, c := range stack.Trace().TrimRuntime() {
		f := c.Frame()
		if !strings.HasPrefix(f.Function, pkgFuncPrefix) || strings.HasSuffix(f.File, "_test.go") {
			return f.File, f.Line
		}
	}
	return "", 0
}
