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

// Package page holds the columnar in-memory representation: immutable
// single-type blocks and pages, plus the builders that produce them.
package page

import "fmt"

// Block is an immutable columnar array of a single SQL type. Positions are
// addressed by index; null testing and byte-size queries are uniform across
// all block kinds, value access goes through the concrete block.
type Block interface {
	// Len returns the number of positions in the block.
	Len() int
	// IsNull reports whether the value at pos is null.
	IsNull(pos int) bool
	// SizeBytes returns the retained size of the block in bytes.
	SizeBytes() int64
}

// Int64Block stores 64-bit integer values.
type Int64Block struct {
	values []int64
	nulls  []bool
}

// NewInt64Block constructs a block over values. nulls may be nil when the
// block contains no nulls; otherwise it must have the same length as values.
func NewInt64Block(values []int64, nulls []bool) *Int64Block {
	checkNullsLen(len(values), nulls)
	return &Int64Block{values: values, nulls: nulls}
}

// Len implements the Block interface.
func (b *Int64Block) Len() int { return len(b.values) }

// IsNull implements the Block interface.
func (b *Int64Block) IsNull(pos int) bool { return b.nulls != nil && b.nulls[pos] }

// SizeBytes implements the Block interface.
func (b *Int64Block) SizeBytes() int64 { return int64(len(b.values))*8 + int64(len(b.nulls)) }

// Int64 returns the value at pos. The result is unspecified when the
// position is null.
func (b *Int64Block) Int64(pos int) int64 { return b.values[pos] }

// Float64Block stores 64-bit floating point values.
type Float64Block struct {
	values []float64
	nulls  []bool
}

// NewFloat64Block constructs a block over values, see NewInt64Block.
func NewFloat64Block(values []float64, nulls []bool) *Float64Block {
	checkNullsLen(len(values), nulls)
	return &Float64Block{values: values, nulls: nulls}
}

// Len implements the Block interface.
func (b *Float64Block) Len() int { return len(b.values) }

// IsNull implements the Block interface.
func (b *Float64Block) IsNull(pos int) bool { return b.nulls != nil && b.nulls[pos] }

// SizeBytes implements the Block interface.
func (b *Float64Block) SizeBytes() int64 { return int64(len(b.values))*8 + int64(len(b.nulls)) }

// Float64 returns the value at pos.
func (b *Float64Block) Float64(pos int) float64 { return b.values[pos] }

// BoolBlock stores boolean values.
type BoolBlock struct {
	values []bool
	nulls  []bool
}

// NewBoolBlock constructs a block over values, see NewInt64Block.
func NewBoolBlock(values []bool, nulls []bool) *BoolBlock {
	checkNullsLen(len(values), nulls)
	return &BoolBlock{values: values, nulls: nulls}
}

// Len implements the Block interface.
func (b *BoolBlock) Len() int { return len(b.values) }

// IsNull implements the Block interface.
func (b *BoolBlock) IsNull(pos int) bool { return b.nulls != nil && b.nulls[pos] }

// SizeBytes implements the Block interface.
func (b *BoolBlock) SizeBytes() int64 { return int64(len(b.values)) + int64(len(b.nulls)) }

// Bool returns the value at pos.
func (b *BoolBlock) Bool(pos int) bool { return b.values[pos] }

// BytesBlock stores variable-length byte slices.
type BytesBlock struct {
	values [][]byte
	nulls  []bool
}

// NewBytesBlock constructs a block over values, see NewInt64Block. The block
// takes ownership of values; callers must not mutate the slices afterwards.
func NewBytesBlock(values [][]byte, nulls []bool) *BytesBlock {
	checkNullsLen(len(values), nulls)
	return &BytesBlock{values: values, nulls: nulls}
}

// Len implements the Block interface.
func (b *BytesBlock) Len() int { return len(b.values) }

// IsNull implements the Block interface.
func (b *BytesBlock) IsNull(pos int) bool { return b.nulls != nil && b.nulls[pos] }

// SizeBytes implements the Block interface.
func (b *BytesBlock) SizeBytes() int64 {
	size := int64(len(b.values))*24 + int64(len(b.nulls))
	for _, v := range b.values {
		size += int64(len(v))
	}
	return size
}

// Bytes returns the value at pos. Callers must not mutate the result.
func (b *BytesBlock) Bytes(pos int) []byte { return b.values[pos] }

func checkNullsLen(n int, nulls []bool) {
	if nulls != nil && len(nulls) != n {
		panic(fmt.Sprintf("page: nulls length %d does not match values length %d", len(nulls), n))
	}
}

// Page is an ordered tuple of blocks sharing one position count. Row i of
// the page is the cross-section of all blocks at position i. Pages are
// immutable.
type Page struct {
	blocks  []Block
	numRows int
}

// NewPage constructs a page from blocks. All blocks must have the same
// length.
func NewPage(blocks ...Block) *Page {
	numRows := 0
	if len(blocks) > 0 {
		numRows = blocks[0].Len()
	}
	for i, b := range blocks {
		if b.Len() != numRows {
			panic(fmt.Sprintf("page: block %d has %d positions, expected %d", i, b.Len(), numRows))
		}
	}
	return &Page{blocks: blocks, numRows: numRows}
}

// ChannelCount returns the number of blocks in the page.
func (p *Page) ChannelCount() int { return len(p.blocks) }

// NumRows returns the position count shared by all blocks.
func (p *Page) NumRows() int { return p.numRows }

// Column returns the block at channel i.
func (p *Page) Column(i int) Block { return p.blocks[i] }

// Columns returns the blocks of the page in channel order. Callers must not
// mutate the result.
func (p *Page) Columns() []Block { return p.blocks }

// SizeBytes returns the retained size of all blocks.
func (p *Page) SizeBytes() int64 {
	var size int64
	for _, b := range p.blocks {
		size += b.SizeBytes()
	}
	return size
}
