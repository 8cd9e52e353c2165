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

package page

import "fmt"

// BlockBuilder accumulates values for one output block. Typed append
// methods live on the concrete builders; a value writer obtains the builder
// for its channel and type-asserts it.
type BlockBuilder interface {
	// AppendNull appends a null position.
	AppendNull()
	// Len returns the number of positions appended so far.
	Len() int
	// Build freezes the appended positions into an immutable block. The
	// builder must be Reset before further appends.
	Build() Block
	// Reset clears the builder for reuse.
	Reset()
}

// Int64Builder builds Int64Blocks.
type Int64Builder struct {
	values  []int64
	nulls   []bool
	hasNull bool
}

// NewInt64Builder returns a builder with room for capacity values.
func NewInt64Builder(capacity int) *Int64Builder {
	return &Int64Builder{values: make([]int64, 0, capacity), nulls: make([]bool, 0, capacity)}
}

// AppendInt64 appends a non-null value.
func (b *Int64Builder) AppendInt64(v int64) {
	b.values = append(b.values, v)
	b.nulls = append(b.nulls, false)
}

// AppendNull implements the BlockBuilder interface.
func (b *Int64Builder) AppendNull() {
	b.values = append(b.values, 0)
	b.nulls = append(b.nulls, true)
	b.hasNull = true
}

// Len implements the BlockBuilder interface.
func (b *Int64Builder) Len() int { return len(b.values) }

// Build implements the BlockBuilder interface.
func (b *Int64Builder) Build() Block {
	values := make([]int64, len(b.values))
	copy(values, b.values)
	return &Int64Block{values: values, nulls: buildNulls(b.nulls, b.hasNull)}
}

// Reset implements the BlockBuilder interface.
func (b *Int64Builder) Reset() {
	b.values = b.values[:0]
	b.nulls = b.nulls[:0]
	b.hasNull = false
}

// Float64Builder builds Float64Blocks.
type Float64Builder struct {
	values  []float64
	nulls   []bool
	hasNull bool
}

// NewFloat64Builder returns a builder with room for capacity values.
func NewFloat64Builder(capacity int) *Float64Builder {
	return &Float64Builder{values: make([]float64, 0, capacity), nulls: make([]bool, 0, capacity)}
}

// AppendFloat64 appends a non-null value.
func (b *Float64Builder) AppendFloat64(v float64) {
	b.values = append(b.values, v)
	b.nulls = append(b.nulls, false)
}

// AppendNull implements the BlockBuilder interface.
func (b *Float64Builder) AppendNull() {
	b.values = append(b.values, 0)
	b.nulls = append(b.nulls, true)
	b.hasNull = true
}

// Len implements the BlockBuilder interface.
func (b *Float64Builder) Len() int { return len(b.values) }

// Build implements the BlockBuilder interface.
func (b *Float64Builder) Build() Block {
	values := make([]float64, len(b.values))
	copy(values, b.values)
	return &Float64Block{values: values, nulls: buildNulls(b.nulls, b.hasNull)}
}

// Reset implements the BlockBuilder interface.
func (b *Float64Builder) Reset() {
	b.values = b.values[:0]
	b.nulls = b.nulls[:0]
	b.hasNull = false
}

// BoolBuilder builds BoolBlocks.
type BoolBuilder struct {
	values  []bool
	nulls   []bool
	hasNull bool
}

// NewBoolBuilder returns a builder with room for capacity values.
func NewBoolBuilder(capacity int) *BoolBuilder {
	return &BoolBuilder{values: make([]bool, 0, capacity), nulls: make([]bool, 0, capacity)}
}

// AppendBool appends a non-null value.
func (b *BoolBuilder) AppendBool(v bool) {
	b.values = append(b.values, v)
	b.nulls = append(b.nulls, false)
}

// AppendNull implements the BlockBuilder interface.
func (b *BoolBuilder) AppendNull() {
	b.values = append(b.values, false)
	b.nulls = append(b.nulls, true)
	b.hasNull = true
}

// Len implements the BlockBuilder interface.
func (b *BoolBuilder) Len() int { return len(b.values) }

// Build implements the BlockBuilder interface.
func (b *BoolBuilder) Build() Block {
	values := make([]bool, len(b.values))
	copy(values, b.values)
	return &BoolBlock{values: values, nulls: buildNulls(b.nulls, b.hasNull)}
}

// Reset implements the BlockBuilder interface.
func (b *BoolBuilder) Reset() {
	b.values = b.values[:0]
	b.nulls = b.nulls[:0]
	b.hasNull = false
}

// BytesBuilder builds BytesBlocks.
type BytesBuilder struct {
	values  [][]byte
	nulls   []bool
	hasNull bool
}

// NewBytesBuilder returns a builder with room for capacity values.
func NewBytesBuilder(capacity int) *BytesBuilder {
	return &BytesBuilder{values: make([][]byte, 0, capacity), nulls: make([]bool, 0, capacity)}
}

// AppendBytes appends a non-null value. The bytes are copied, so the caller
// may reuse v.
func (b *BytesBuilder) AppendBytes(v []byte) {
	owned := make([]byte, len(v))
	copy(owned, v)
	b.values = append(b.values, owned)
	b.nulls = append(b.nulls, false)
}

// AppendNull implements the BlockBuilder interface.
func (b *BytesBuilder) AppendNull() {
	b.values = append(b.values, nil)
	b.nulls = append(b.nulls, true)
	b.hasNull = true
}

// Len implements the BlockBuilder interface.
func (b *BytesBuilder) Len() int { return len(b.values) }

// Build implements the BlockBuilder interface.
func (b *BytesBuilder) Build() Block {
	values := make([][]byte, len(b.values))
	copy(values, b.values)
	return &BytesBlock{values: values, nulls: buildNulls(b.nulls, b.hasNull)}
}

// Reset implements the BlockBuilder interface.
func (b *BytesBuilder) Reset() {
	b.values = b.values[:0]
	b.nulls = b.nulls[:0]
	b.hasNull = false
}

func buildNulls(nulls []bool, hasNull bool) []bool {
	if !hasNull {
		return nil
	}
	out := make([]bool, len(nulls))
	copy(out, nulls)
	return out
}

// Builder assembles an output page one block builder per channel.
type Builder struct {
	builders []BlockBuilder
}

// NewBuilder constructs a page builder over the given block builders, one
// per output channel.
func NewBuilder(builders []BlockBuilder) *Builder {
	return &Builder{builders: builders}
}

// ChannelCount returns the number of output channels.
func (pb *Builder) ChannelCount() int { return len(pb.builders) }

// BlockBuilder returns the builder for the given output channel.
func (pb *Builder) BlockBuilder(channel int) BlockBuilder { return pb.builders[channel] }

// NumRows returns the number of complete rows appended. All channels must
// have the same length when a page is built.
func (pb *Builder) NumRows() int {
	if len(pb.builders) == 0 {
		return 0
	}
	return pb.builders[0].Len()
}

// Build freezes the accumulated values into a page. All channels must hold
// the same number of positions.
func (pb *Builder) Build() *Page {
	blocks := make([]Block, len(pb.builders))
	for i, b := range pb.builders {
		if b.Len() != pb.NumRows() {
			panic(fmt.Sprintf("page: channel %d has %d positions, expected %d", i, b.Len(), pb.NumRows()))
		}
		blocks[i] = b.Build()
	}
	return NewPage(blocks...)
}

// Reset clears all channel builders for reuse.
func (pb *Builder) Reset() {
	for _, b := range pb.builders {
		b.Reset()
	}
}
