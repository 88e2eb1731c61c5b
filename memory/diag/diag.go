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

// Package diag provides memory.Policy implementations that log or record
// diagnostics instead of dropping them.
package diag

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cloudwego/memmgr/memory"
)

// Logger is a memory.Policy writing each diagnostic as a structured zerolog
// event. With Strict set, errors panic after being logged.
type Logger struct {
	log    zerolog.Logger
	strict bool
}

var _ memory.Policy = (*Logger)(nil)

// New returns a Logger writing to log.
func New(log zerolog.Logger, strict bool) *Logger {
	return &Logger{log: log, strict: strict}
}

// Break implements memory.Policy.
func (l *Logger) Break(d memory.Diagnostic) {
	ev := l.log.Error()
	if d.Level == memory.LevelWarn {
		ev = l.log.Warn()
	}
	ev.Str("manager", d.Manager).
		Str("kind", d.Kind.String()).
		Str("ptr", fmt.Sprintf("%#x", d.Pointer)).
		Str("caller", fmt.Sprintf("%s:%d", d.File, d.Line)).
		Msg(d.Message)
	if l.strict && d.Level == memory.LevelError {
		panic(d)
	}
}

// Collector records diagnostics, optionally forwarding them to Next.
type Collector struct {
	Next        memory.Policy
	Diagnostics []memory.Diagnostic
}

var _ memory.Policy = (*Collector)(nil)

// Break implements memory.Policy.
func (c *Collector) Break(d memory.Diagnostic) {
	c.Diagnostics = append(c.Diagnostics, d)
	if c.Next != nil {
		c.Next.Break(d)
	}
}

// Count returns the number of recorded diagnostics of kind k.
func (c *Collector) Count(k memory.Kind) int {
	n := 0
	for _, d := range c.Diagnostics {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Reset drops recorded diagnostics.
func (c *Collector) Reset() {
	c.Diagnostics = c.Diagnostics[:0]
}
