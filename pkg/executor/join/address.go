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

// Address identifies one build-side row: the batch index in the high 32
// bits, the position within the batch in the low 32 bits. The encoding is a
// persisted-state contract and must not change.
type Address uint64

// AddressNotFound is the reserved sentinel for empty hash slots and failed
// probes.
const AddressNotFound Address = 0xFFFFFFFFFFFFFFFF

// maxBatchIndex and maxBatchPosition bound the two address halves.
const (
	maxBatchIndex    = 1<<32 - 1
	maxBatchPosition = 1<<32 - 1
)

// NewAddress packs a batch index and an intra-batch position.
func NewAddress(batch, position int) Address {
	return Address(uint64(uint32(batch))<<32 | uint64(uint32(position)))
}

// Batch returns the batch index half of the address.
func (a Address) Batch() int { return int(a >> 32) }

// Position returns the intra-batch position half of the address.
func (a Address) Position() int { return int(uint32(a)) }
