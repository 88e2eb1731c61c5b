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

package trace

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cloudwego/memmgr/memory"
	"github.com/cloudwego/memmgr/unsafex"
)

// ErrStopped is returned by Run when a strict trace hits a diagnostic error.
var ErrStopped = errors.New("trace: stopped on diagnostic")

// StepResult is the outcome of one step. Offset is the block's distance from
// the start of the resource, -1 when the step produced no block.
type StepResult struct {
	Index    int                `json:"index"`
	Op       string             `json:"op"`
	ID       string             `json:"id,omitempty"`
	Code     *memory.ResultCode `json:"code,omitempty"`
	Offset   int64              `json:"offset"`
	Size     uint64             `json:"size"`
	Used     uint64             `json:"used"`
	Expected *memory.ResultCode `json:"expected,omitempty"`
	Mismatch bool               `json:"mismatch,omitempty"`
	// Skipped is set for realloc and free of an id whose alloc failed.
	Skipped bool `json:"skipped,omitempty"`
}

// Header is one entry of the stack header chain, top first.
type Header struct {
	Offset uint64 `json:"offset"`
	Size   uint32 `json:"size"`
	Sentry bool   `json:"sentry,omitempty"`
}

// Report is what a run produced.
type Report struct {
	Manager     string       `json:"manager"`
	Backing     string       `json:"backing"`
	Capacity    uint64       `json:"capacity"`
	Steps       []StepResult `json:"steps"`
	Used        uint64       `json:"used"`
	Peak        uint64       `json:"peak"`
	Headers     []Header     `json:"headers,omitempty"`
	Diagnostics int          `json:"diagnostics"`
	Mismatches  int          `json:"mismatches"`
}

type runner interface {
	memory.Manager
	Used() uint64
	Reset()
	Clear()
}

func (t *Trace) newResource() (*memory.Resource, error) {
	switch t.Resource.Backing {
	case BackingPooled:
		return memory.NewPooledResource(t.Resource.Size), nil
	case BackingMmap:
		return memory.NewMmapResource(t.Resource.Size)
	}
	if t.Resource.Alignment == 0 {
		return memory.NewFixedResource(t.Resource.Size), nil
	}
	return memory.NewAlignedResource(t.Resource.Size, t.Resource.Alignment), nil
}

// Run replays the trace on a fresh resource. Diagnostics are counted and
// forwarded to policy, which may be nil. Each step is logged at debug level.
//
// The report is returned even when Run stops early with ErrStopped.
func (t *Trace) Run(policy memory.Policy, log zerolog.Logger) (rep *Report, err error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r, err := t.newResource()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := r.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("trace: close resource: %w", cerr)
		}
	}()

	rep = &Report{Manager: t.Manager, Backing: t.Resource.Backing, Capacity: r.Size()}
	if rep.Backing == "" {
		rep.Backing = BackingFixed
	}
	var stop *memory.Diagnostic
	counted := memory.PolicyFunc(func(d memory.Diagnostic) {
		rep.Diagnostics++
		if t.Strict && d.Level == memory.LevelError && stop == nil {
			stop = &d
		}
		if policy != nil {
			policy.Break(d)
		}
	})
	opt := &memory.Option{
		Policy:           counted,
		FallThroughLimit: t.FallThroughLimit,
		FallThroughWarn:  t.FallThroughWarn,
	}

	var m runner
	if t.Manager == ManagerStack {
		m, err = memory.NewStack(r, opt)
	} else {
		m, err = memory.NewBump(r, opt)
	}
	if err != nil {
		return nil, err
	}

	base := r.Info().Addr()
	// Freed blocks stay in the map, a later step may reuse them on purpose.
	blocks := make(map[string]memory.Block)
	for i, s := range t.Steps {
		res := StepResult{Index: i, Op: s.Op, ID: s.ID, Offset: -1}
		record := func(out memory.Result) {
			code := out.Code
			res.Code = &code
			if out.Usable() {
				res.Offset = unsafex.Distance(out.Block.Addr(), base)
				res.Size = out.Block.Size()
				blocks[s.ID] = out.Block
			}
		}

		switch s.Op {
		case OpAlloc:
			align := s.Align
			if align == 0 {
				align = memory.DefaultAlignment
			}
			delete(blocks, s.ID)
			record(m.AllocateAligned(s.Size, align))
		case OpRealloc:
			b, ok := blocks[s.ID]
			if !ok {
				res.Skipped = true
				break
			}
			record(m.Reallocate(b, s.Size))
		case OpFree:
			b, ok := blocks[s.ID]
			if !ok {
				res.Skipped = true
				break
			}
			m.Free(b)
		case OpReset:
			m.Reset()
		case OpClear:
			m.Clear()
		}

		if s.Expect != nil {
			res.Expected = s.Expect
			res.Mismatch = res.Code == nil || *res.Code != *s.Expect
			if res.Mismatch {
				rep.Mismatches++
			}
		}
		res.Used = m.Used()
		rep.Steps = append(rep.Steps, res)

		ev := log.Debug().Int("step", i).Str("op", s.Op).Uint64("used", res.Used)
		if s.ID != "" {
			ev = ev.Str("id", s.ID)
		}
		if res.Code != nil {
			ev = ev.Str("code", res.Code.String()).Int64("offset", res.Offset)
		}
		ev.Bool("skipped", res.Skipped).Msg("step")

		if stop != nil {
			t.finish(m, rep)
			return rep, fmt.Errorf("%w at step %d: %s", ErrStopped, i, stop.Message)
		}
	}
	t.finish(m, rep)
	return rep, nil
}

func (t *Trace) finish(m runner, rep *Report) {
	switch m := m.(type) {
	case *memory.Stack:
		st := m.Stats()
		rep.Used, rep.Peak = st.Used, st.Peak
		m.Walk(func(h memory.HeaderInfo) bool {
			rep.Headers = append(rep.Headers, Header{Offset: h.Offset, Size: h.Size, Sentry: h.Sentry})
			return true
		})
	case *memory.Bump:
		st := m.Stats()
		rep.Used, rep.Peak = st.Used, st.Peak
	}
}
