// Copyright 2025 Trellis, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package join

import "github.com/pingcap/errors"

// Shape and type errors are raised when a factory is compiled, never during
// probing. Once a lookup source is built, probing is total.
var (
	// ErrInvalidShape reports an empty type vector or a join channel index
	// out of bounds.
	ErrInvalidShape = errors.New("invalid join shape")
	// ErrUnsupportedType reports a join-channel type that does not implement
	// the hash and equality capabilities.
	ErrUnsupportedType = errors.New("type does not support join operations")
	// ErrCompilation reports that the specialization engine failed to
	// assemble a kernel plan; the root cause is preserved in the chain.
	ErrCompilation = errors.New("join strategy compilation failed")
	// ErrCapacityExceeded reports a build row count the hash index cannot
	// address.
	ErrCapacityExceeded = errors.New("join hash capacity exceeded")
)
