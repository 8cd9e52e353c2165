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
	"github.com/pingcap/errors"

	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// LookupSource is an indexed build side ready for probing. Probing is
// total: a probe that matches nothing returns AddressNotFound, never an
// error. A frozen lookup source is safe for concurrent probing from
// multiple goroutines.
type LookupSource struct {
	strategy  PagesHashStrategy
	hash      *pagesHash
	addresses []Address
}

// Strategy returns the strategy the source was built with. Probe rows must
// be packaged in the strategy's join-channel order.
func (s *LookupSource) Strategy() PagesHashStrategy { return s.strategy }

// JoinPositionCount returns the number of indexed build rows.
func (s *LookupSource) JoinPositionCount() int { return len(s.addresses) }

// IsEmpty reports whether the source indexes no rows.
func (s *LookupSource) IsEmpty() bool { return len(s.addresses) == 0 }

// GetJoinPosition returns the first build row matching the probe row, laid
// out as one block per join channel in join-channel order.
func (s *LookupSource) GetJoinPosition(probePosition int, probeBlocks []page.Block) Address {
	return s.hash.getJoinPosition(probePosition, probeBlocks, s.strategy.HashRow(probePosition, probeBlocks))
}

// GetJoinPositionWithHash is GetJoinPosition for callers that computed the
// row hash up front. rawHash must be the strategy's HashRow over the same
// blocks.
func (s *LookupSource) GetJoinPositionWithHash(probePosition int, probeBlocks []page.Block, rawHash int32) Address {
	return s.hash.getJoinPosition(probePosition, probeBlocks, rawHash)
}

// GetJoinPositionForPage is GetJoinPosition over a probe page: the page's
// columns are sliced by probeChannels in join-channel order. Callers probing
// many rows of one page should slice once with ProbeBlocks and use
// GetJoinPosition instead.
func (s *LookupSource) GetJoinPositionForPage(probePosition int, probePage *page.Page, probeChannels []int) Address {
	return s.GetJoinPosition(probePosition, ProbeBlocks(probePage, probeChannels))
}

// GetNextJoinPosition returns the next build row matching the same probe
// row, for enumerating duplicate keys. prev must come from a previous call
// with the same probe row.
func (s *LookupSource) GetNextJoinPosition(prev Address, probePosition int, probeBlocks []page.Block) Address {
	return s.hash.getNextJoinPosition(prev, probePosition, probeBlocks)
}

// AppendTo emits every channel value of the build row at a into the page
// builder starting at outputChannelOffset.
func (s *LookupSource) AppendTo(a Address, pb *page.Builder, outputChannelOffset int) {
	s.strategy.AppendTo(a.Batch(), a.Position(), pb, outputChannelOffset)
}

// RetainedSizeBytes returns the memory held by the bucket array and the
// address list.
func (s *LookupSource) RetainedSizeBytes() int64 {
	return s.hash.retainedSizeBytes() + int64(len(s.addresses))*8
}

// ProbeBlocks packages a probe page's columns in join-channel order, the
// layout HashRow and PositionEqualsRow expect.
func ProbeBlocks(p *page.Page, joinChannels []int) []page.Block {
	blocks := make([]page.Block, len(joinChannels))
	for i, ch := range joinChannels {
		blocks[i] = p.Column(ch)
	}
	return blocks
}

// PagesIndex accumulates build-side pages and their row addresses ahead of
// lookup source creation. Appending is single-threaded; pages are borrowed,
// not copied.
type PagesIndex struct {
	types     []types.Type
	channels  [][]page.Block
	addresses []Address
	sizeBytes int64
}

// NewPagesIndex creates an empty index for the given type vector.
func NewPagesIndex(ts []types.Type) *PagesIndex {
	return &PagesIndex{
		types:    ts,
		channels: make([][]page.Block, len(ts)),
	}
}

// AddPage appends one page as the next batch. Every row of the page gets an
// address in append order.
func (idx *PagesIndex) AddPage(p *page.Page) error {
	if p.ChannelCount() != len(idx.types) {
		return errors.Annotatef(ErrInvalidShape, "page has %d channels, index expects %d", p.ChannelCount(), len(idx.types))
	}
	batch := idx.BatchCount()
	if batch > maxBatchIndex {
		return errors.Annotatef(ErrCapacityExceeded, "batch index %d", batch)
	}
	if p.NumRows() > maxBatchPosition {
		return errors.Annotatef(ErrCapacityExceeded, "page with %d rows", p.NumRows())
	}
	for i := range idx.channels {
		idx.channels[i] = append(idx.channels[i], p.Column(i))
	}
	for pos := 0; pos < p.NumRows(); pos++ {
		idx.addresses = append(idx.addresses, NewAddress(batch, pos))
	}
	idx.sizeBytes += p.SizeBytes()
	return nil
}

// BatchCount returns the number of appended pages.
func (idx *PagesIndex) BatchCount() int {
	if len(idx.channels) == 0 {
		return 0
	}
	return len(idx.channels[0])
}

// PositionCount returns the total number of indexed rows.
func (idx *PagesIndex) PositionCount() int { return len(idx.addresses) }

// Addresses returns the accumulated addresses in append order.
func (idx *PagesIndex) Addresses() []Address { return idx.addresses }

// Channels returns the per-channel block sequences.
func (idx *PagesIndex) Channels() [][]page.Block { return idx.channels }

// SizeBytes returns the bytes of the borrowed pages.
func (idx *PagesIndex) SizeBytes() int64 { return idx.sizeBytes }

// CreateLookupSource builds a lookup source over the accumulated pages
// through the given factory.
func (idx *PagesIndex) CreateLookupSource(f *LookupSourceFactory, opCtx *OperatorContext) (*LookupSource, error) {
	return f.CreateLookupSource(idx.addresses, idx.channels, opCtx)
}
