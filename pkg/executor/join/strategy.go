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
	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// PagesHashStrategy computes row hashes and row equality over the join-key
// columns of an indexed set of pages. A strategy is bound to one fixed type
// vector and one fixed join-channel list; once created it is read-only and
// safe for concurrent probing.
//
// Hashing and equality follow join-key semantics, not SQL three-valued
// logic: a null join key hashes as zero, and two nulls at the same channel
// compare equal while a null never equals a value.
type PagesHashStrategy interface {
	// ChannelCount returns the number of channels, equal to the length of
	// the type vector.
	ChannelCount() int
	// AppendTo writes every channel value of the row at (batch, position)
	// into the page builder, channel i going to output channel
	// outputChannelOffset+i.
	AppendTo(batch, position int, pb *page.Builder, outputChannelOffset int)
	// HashPosition returns the join-key hash of the indexed row at
	// (batch, position).
	HashPosition(batch, position int) int32
	// HashRow returns the join-key hash of a transient row laid out as one
	// block per join channel, in join-channel order.
	HashRow(position int, blocks []page.Block) int32
	// PositionEqualsRow compares an indexed row against a transient row
	// laid out as one block per join channel.
	PositionEqualsRow(leftBatch, leftPosition, rightPosition int, rightBlocks []page.Block) bool
	// PositionEqualsPosition compares two indexed rows.
	PositionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool
}

// pagesHashStrategy is the strategy produced by the specialization engine.
// channels holds the block sequence of every channel, one block per appended
// page; hashChannels aliases the join-key channels in join-channel order so
// lookup by ordinal is O(1). kernels carries the per-join-channel hash and
// equality implementations selected at compile time.
type pagesHashStrategy struct {
	types        []types.Type
	channels     [][]page.Block
	hashChannels [][]page.Block
	kernels      []channelKernel
}

// ChannelCount implements the PagesHashStrategy interface.
func (s *pagesHashStrategy) ChannelCount() int { return len(s.types) }

// AppendTo implements the PagesHashStrategy interface.
func (s *pagesHashStrategy) AppendTo(batch, position int, pb *page.Builder, outputChannelOffset int) {
	for i, t := range s.types {
		t.AppendTo(s.channels[i][batch], position, pb.BlockBuilder(outputChannelOffset+i))
	}
}

// HashPosition implements the PagesHashStrategy interface. The result folds
// the per-channel hashes in declared join-channel order with multiplier 31;
// null keys contribute zero. Both are part of the wire contract shared with
// every independently built side of a join.
func (s *pagesHashStrategy) HashPosition(batch, position int) int32 {
	var result int32
	for _, k := range s.kernels {
		result = result*31 + k.hashPosition(batch, position)
	}
	return result
}

// HashRow implements the PagesHashStrategy interface.
func (s *pagesHashStrategy) HashRow(position int, blocks []page.Block) int32 {
	var result int32
	for i, k := range s.kernels {
		result = result*31 + k.hashBlock(blocks[i], position)
	}
	return result
}

// PositionEqualsRow implements the PagesHashStrategy interface.
func (s *pagesHashStrategy) PositionEqualsRow(leftBatch, leftPosition, rightPosition int, rightBlocks []page.Block) bool {
	for i, k := range s.kernels {
		if !k.positionEqualsBlock(leftBatch, leftPosition, rightBlocks[i], rightPosition) {
			return false
		}
	}
	return true
}

// PositionEqualsPosition implements the PagesHashStrategy interface.
func (s *pagesHashStrategy) PositionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	for _, k := range s.kernels {
		if !k.positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition) {
			return false
		}
	}
	return true
}
