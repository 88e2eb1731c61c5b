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

const (
	defaultFallThroughLimit = 100
	defaultFallThroughWarn  = 5
)

// Option configures a manager. The zero value is valid.
type Option struct {
	// Policy receives diagnostics for misuse (foreign blocks, bad headers).
	// nil means IgnorePolicy.
	Policy Policy

	// FallThroughLimit is the max number of padding blocks a single Stack
	// free collapses. It guards against corrupted chains, the remaining
	// padding blocks are collapsed by a later free.
	FallThroughLimit int

	// FallThroughWarn emits a LevelWarn diagnostic when a single free
	// collapses more padding blocks than this.
	FallThroughWarn int
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		Policy:           IgnorePolicy,
		FallThroughLimit: defaultFallThroughLimit,
		FallThroughWarn:  defaultFallThroughWarn,
	}
}

// normalize returns a copy of o with zero fields set to their defaults.
func (o *Option) normalize() Option {
	if o == nil {
		return *DefaultOption()
	}
	r := *o
	if r.Policy == nil {
		r.Policy = IgnorePolicy
	}
	if r.FallThroughLimit <= 0 {
		r.FallThroughLimit = defaultFallThroughLimit
	}
	if r.FallThroughWarn <= 0 {
		r.FallThroughWarn = defaultFallThroughWarn
	}
	return r
}
