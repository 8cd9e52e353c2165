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

import (
	"math/bits"

	"github.com/pingcap/errors"

	"github.com/trellisdb/trellis/pkg/util/page"
)

const (
	// minHashCapacity is the smallest bucket array allocated.
	minHashCapacity = 1024
	// maxFillNumerator/maxFillDenominator encode the 0.75 load factor cap.
	maxFillNumerator   = 3
	maxFillDenominator = 4
	// maxHashCapacity bounds the bucket array; the probe entry point masks a
	// 32-bit hash, so larger tables would leave buckets unreachable.
	maxHashCapacity = 1 << 31
)

// pagesHash is an open-addressed hash index over row addresses. The bucket
// array is sized up-front for a load factor of at most 0.75, filled in
// input order during construction, and read-only afterwards; concurrent
// probing requires no locks.
type pagesHash struct {
	strategy PagesHashStrategy
	key      []Address
	mask     int
}

// newPagesHash builds the index. Addresses are inserted in input order, so
// bucket occupation is a deterministic function of the input order and the
// strategy's hash.
func newPagesHash(strategy PagesHashStrategy, addresses []Address) (*pagesHash, error) {
	capacity, err := hashCapacityFor(len(addresses))
	if err != nil {
		return nil, errors.Trace(err)
	}
	h := &pagesHash{
		strategy: strategy,
		key:      make([]Address, capacity),
		mask:     capacity - 1,
	}
	for i := range h.key {
		h.key[i] = AddressNotFound
	}
	for _, a := range addresses {
		slot := int(uint32(strategy.HashPosition(a.Batch(), a.Position()))) & h.mask
		for h.key[slot] != AddressNotFound {
			slot = (slot + 1) & h.mask
		}
		h.key[slot] = a
	}
	return h, nil
}

// hashCapacityFor returns the smallest power-of-two capacity keeping the
// load factor at or below 0.75, with a floor of minHashCapacity.
func hashCapacityFor(rowCount int) (int, error) {
	if rowCount > (maxHashCapacity/maxFillDenominator)*maxFillNumerator {
		return 0, errors.Annotatef(ErrCapacityExceeded, "%d rows", rowCount)
	}
	needed := (rowCount*maxFillDenominator + maxFillNumerator - 1) / maxFillNumerator
	if needed <= minHashCapacity {
		return minHashCapacity, nil
	}
	return 1 << bits.Len(uint(needed-1)), nil
}

// getJoinPosition probes for the first address whose row equals the probe
// row. rawHash must be the strategy's HashRow over the same blocks. Returns
// AddressNotFound when no row matches.
func (h *pagesHash) getJoinPosition(probePosition int, probeBlocks []page.Block, rawHash int32) Address {
	slot := int(uint32(rawHash)) & h.mask
	for {
		a := h.key[slot]
		if a == AddressNotFound {
			return AddressNotFound
		}
		if h.strategy.PositionEqualsRow(a.Batch(), a.Position(), probePosition, probeBlocks) {
			return a
		}
		slot = (slot + 1) & h.mask
	}
}

// getNextJoinPosition continues the probe sequence past prev, re-testing
// equality on every candidate, for probe rows with multiple matches. prev
// must have been returned by a previous probe with the same probe row.
func (h *pagesHash) getNextJoinPosition(prev Address, probePosition int, probeBlocks []page.Block) Address {
	slot := h.slotOf(prev)
	for {
		slot = (slot + 1) & h.mask
		a := h.key[slot]
		if a == AddressNotFound {
			return AddressNotFound
		}
		if h.strategy.PositionEqualsRow(a.Batch(), a.Position(), probePosition, probeBlocks) {
			return a
		}
	}
}

// slotOf locates the slot holding a. The address must be present: its row
// hashes to the start of the probe chain the address was inserted on.
func (h *pagesHash) slotOf(a Address) int {
	slot := int(uint32(h.strategy.HashPosition(a.Batch(), a.Position()))) & h.mask
	for h.key[slot] != a {
		slot = (slot + 1) & h.mask
	}
	return slot
}

// capacity returns the bucket array length.
func (h *pagesHash) capacity() int { return len(h.key) }

// retainedSizeBytes returns the bucket array size.
func (h *pagesHash) retainedSizeBytes() int64 { return int64(len(h.key)) * 8 }
