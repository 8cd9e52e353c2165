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

// Package types defines the column type capability records consumed by the
// join kernel. A type knows how to move values between blocks and builders;
// types that participate in join keys additionally implement Hashable and
// Comparable.
package types

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/twmb/murmur3"

	"github.com/trellisdb/trellis/pkg/util/page"
)

// Type is the capability record for one SQL column type.
type Type interface {
	// Name returns the canonical type name. Names identify types in join
	// shape keys, so two distinct types must never share a name.
	Name() string
	// NewBlockBuilder returns a builder producing blocks of this type.
	NewBlockBuilder(capacity int) page.BlockBuilder
	// AppendTo writes the value at pos of b into out. Nulls are carried
	// through as nulls.
	AppendTo(b page.Block, pos int, out page.BlockBuilder)
}

// Hashable is implemented by types whose non-null values can be hashed.
type Hashable interface {
	// Hash returns the hash of the non-null value at pos. Callers must not
	// pass null positions.
	Hash(b page.Block, pos int) int32
}

// Comparable is implemented by types whose non-null values can be compared
// for equality.
type Comparable interface {
	// EqualTo reports whether the non-null values at the two positions are
	// equal. Callers must not pass null positions.
	EqualTo(l page.Block, lp int, r page.Block, rp int) bool
}

// Builtin types.
var (
	Bigint    Type = bigintType{}
	Double    Type = doubleType{}
	Boolean   Type = booleanType{}
	Varbinary Type = varbinaryType{}
)

type bigintType struct{}

func (bigintType) Name() string { return "bigint" }

func (bigintType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewInt64Builder(capacity)
}

func (bigintType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.Int64Builder).AppendInt64(b.(*page.Int64Block).Int64(pos))
}

func (bigintType) Hash(b page.Block, pos int) int32 {
	return HashInt64(b.(*page.Int64Block).Int64(pos))
}

func (bigintType) EqualTo(l page.Block, lp int, r page.Block, rp int) bool {
	return l.(*page.Int64Block).Int64(lp) == r.(*page.Int64Block).Int64(rp)
}

type doubleType struct{}

func (doubleType) Name() string { return "double" }

func (doubleType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewFloat64Builder(capacity)
}

func (doubleType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.Float64Builder).AppendFloat64(b.(*page.Float64Block).Float64(pos))
}

func (doubleType) Hash(b page.Block, pos int) int32 {
	return HashFloat64(b.(*page.Float64Block).Float64(pos))
}

func (doubleType) EqualTo(l page.Block, lp int, r page.Block, rp int) bool {
	return l.(*page.Float64Block).Float64(lp) == r.(*page.Float64Block).Float64(rp)
}

type booleanType struct{}

func (booleanType) Name() string { return "boolean" }

func (booleanType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewBoolBuilder(capacity)
}

func (booleanType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.BoolBuilder).AppendBool(b.(*page.BoolBlock).Bool(pos))
}

func (booleanType) Hash(b page.Block, pos int) int32 {
	return HashBool(b.(*page.BoolBlock).Bool(pos))
}

func (booleanType) EqualTo(l page.Block, lp int, r page.Block, rp int) bool {
	return l.(*page.BoolBlock).Bool(lp) == r.(*page.BoolBlock).Bool(rp)
}

type varbinaryType struct{}

func (varbinaryType) Name() string { return "varbinary" }

func (varbinaryType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewBytesBuilder(capacity)
}

func (varbinaryType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.BytesBuilder).AppendBytes(b.(*page.BytesBlock).Bytes(pos))
}

func (varbinaryType) Hash(b page.Block, pos int) int32 {
	return HashBytes(b.(*page.BytesBlock).Bytes(pos))
}

func (varbinaryType) EqualTo(l page.Block, lp int, r page.Block, rp int) bool {
	return bytes.Equal(l.(*page.BytesBlock).Bytes(lp), r.(*page.BytesBlock).Bytes(rp))
}

// HashInt64 hashes a 64-bit integer value.
func HashInt64(v int64) int32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return int32(murmur3.Sum32(buf[:]))
}

// HashFloat64 hashes a 64-bit floating point value by its bit pattern.
func HashFloat64(v float64) int32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return int32(murmur3.Sum32(buf[:]))
}

// HashBool hashes a boolean value.
func HashBool(v bool) int32 {
	var buf [1]byte
	if v {
		buf[0] = 1
	}
	return int32(murmur3.Sum32(buf[:]))
}

// HashBytes hashes a variable-length byte value.
func HashBytes(v []byte) int32 {
	return int32(murmur3.Sum32(v))
}

// NewPageBuilder returns a page builder with one block builder per type.
func NewPageBuilder(ts []Type, capacity int) *page.Builder {
	builders := make([]page.BlockBuilder, len(ts))
	for i, t := range ts {
		builders[i] = t.NewBlockBuilder(capacity)
	}
	return page.NewBuilder(builders)
}
