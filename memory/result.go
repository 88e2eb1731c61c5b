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
)

// ResultCode tells the caller what an allocation call did.
// Callers must check it before touching Result.Block.
type ResultCode uint8

const (
	// Fail is an internal invariant violation, usually caused by a request
	// the manager cannot represent (eg. a zero or odd alignment).
	Fail ResultCode = iota
	// WrongManager means the block was not allocated by this manager.
	WrongManager
	// UseAfterFree means the block had already been freed or abandoned.
	UseAfterFree
	// OutOfMemory means the resource has no room for the request.
	OutOfMemory
	// CurrentBlockBigEnough means the existing block already satisfies
	// the request and was returned unchanged.
	CurrentBlockBigEnough
	// ContinueCurrentBlock means the existing block was extended in place.
	ContinueCurrentBlock
	// NewBlock means fresh memory was handed out.
	NewBlock
)

var codeNames = [...]string{
	Fail:                  "FAIL",
	WrongManager:          "WRONG_MANAGER",
	UseAfterFree:          "USE_AFTER_FREE",
	OutOfMemory:           "OUT_OF_MEMORY",
	CurrentBlockBigEnough: "CURRENT_BLOCK_BIG_ENOUGH",
	ContinueCurrentBlock:  "CONTINUE_CURRENT_BLOCK",
	NewBlock:              "NEW_BLOCK",
}

func (c ResultCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "UNKNOWN"
}

// ParseResultCode is the inverse of ResultCode.String.
func ParseResultCode(s string) (ResultCode, bool) {
	for i, name := range codeNames {
		if name == s {
			return ResultCode(i), true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (c ResultCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ResultCode) UnmarshalText(b []byte) error {
	v, ok := ParseResultCode(string(b))
	if !ok {
		return fmt.Errorf("memory: unknown result code %q", b)
	}
	*c = v
	return nil
}

var (
	ErrFail         = errors.New("memory: internal allocation failure")
	ErrWrongManager = errors.New("memory: block not owned by manager")
	ErrUseAfterFree = errors.New("memory: block used after free")
	ErrOutOfMemory  = errors.New("memory: out of memory")
)

// Result is the outcome of an allocation call.
// Only NewBlock, ContinueCurrentBlock and CurrentBlockBigEnough carry a block.
type Result struct {
	Block Block
	Code  ResultCode
}

func result(code ResultCode) Result {
	return Result{Code: code}
}

// OK reports whether the call produced memory that is valid for the
// requested size at Block: a new block or an in-place extension.
func (r Result) OK() bool {
	return r.Code == NewBlock || r.Code == ContinueCurrentBlock
}

// Usable is OK plus CurrentBlockBigEnough.
func (r Result) Usable() bool {
	return r.OK() || r.Code == CurrentBlockBigEnough
}

// Err maps failure codes to the corresponding error, nil for success codes.
func (r Result) Err() error {
	switch r.Code {
	case NewBlock, ContinueCurrentBlock, CurrentBlockBigEnough:
		return nil
	case WrongManager:
		return ErrWrongManager
	case UseAfterFree:
		return ErrUseAfterFree
	case OutOfMemory:
		return ErrOutOfMemory
	default:
		return ErrFail
	}
}

func (r Result) String() string {
	if r.Block.IsNil() {
		return r.Code.String()
	}
	return r.Code.String() + " " + r.Block.String()
}
