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
	"bytes"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// channelKernel is the per-join-channel hash and equality implementation a
// strategy dispatches to. A kernel is bound to the build-side block sequence
// of its channel; the null rules of join-key semantics live here so every
// realization applies them identically.
type channelKernel interface {
	// hashPosition hashes the indexed value at (batch, position); null
	// hashes as zero.
	hashPosition(batch, position int) int32
	// hashBlock hashes the value at position of an external block.
	hashBlock(b page.Block, position int) int32
	// positionEqualsBlock compares an indexed value against an external
	// block value under the two-nulls-match rule.
	positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool
	// positionEqualsPosition compares two indexed values under the
	// two-nulls-match rule.
	positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool
}

// kernelFactory binds a compile-time kernel choice to the block sequence of
// one channel when a strategy is created.
type kernelFactory struct {
	name  string
	build func(batches []page.Block) channelKernel
}

// specializedKernelBuilders maps builtin type names to monomorphized kernel
// constructors. A constructor returns nil when the blocks are not the
// concrete representation it specializes for, in which case the vtable
// kernel takes over. Types absent from this table always run on the vtable
// path.
var specializedKernelBuilders = map[string]func(batches []page.Block, hasher types.Hashable, comparer types.Comparable) channelKernel{
	"bigint":    buildInt64Kernel,
	"double":    buildFloat64Kernel,
	"boolean":   buildBoolKernel,
	"varbinary": buildBytesKernel,
}

// makeKernelFactory selects the kernel realization for one join channel.
// The choice is a pure function of the type, so compilation stays
// deterministic for a shape.
func makeKernelFactory(t types.Type) (kernelFactory, error) {
	hasher, ok := t.(types.Hashable)
	if !ok {
		return kernelFactory{}, ErrUnsupportedType
	}
	comparer, ok := t.(types.Comparable)
	if !ok {
		return kernelFactory{}, ErrUnsupportedType
	}
	if t.Name() == "" {
		return kernelFactory{}, ErrCompilation
	}
	vtable := func(batches []page.Block) channelKernel {
		return &vtableKernel{hasher: hasher, comparer: comparer, batches: batches}
	}
	specialized, ok := specializedKernelBuilders[t.Name()]
	if !ok {
		return kernelFactory{name: "vtable:" + t.Name(), build: vtable}, nil
	}
	return kernelFactory{
		name: "specialized:" + t.Name(),
		build: func(batches []page.Block) channelKernel {
			if k := specialized(batches, hasher, comparer); k != nil {
				return k
			}
			return vtable(batches)
		},
	}, nil
}

// vtableKernel dispatches through the type capability record. It is the
// fallback for plugged-in types and for blocks with unexpected concrete
// representations.
type vtableKernel struct {
	hasher   types.Hashable
	comparer types.Comparable
	batches  []page.Block
}

func (k *vtableKernel) hashPosition(batch, position int) int32 {
	return k.hashBlock(k.batches[batch], position)
}

func (k *vtableKernel) hashBlock(b page.Block, position int) int32 {
	if b.IsNull(position) {
		return 0
	}
	return k.hasher.Hash(b, position)
}

func (k *vtableKernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	l := k.batches[batch]
	lNull, rNull := l.IsNull(position), r.IsNull(rPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	return k.comparer.EqualTo(l, position, r, rPosition)
}

func (k *vtableKernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	return k.positionEqualsBlock(leftBatch, leftPosition, k.batches[rightBatch], rightPosition)
}

// int64Kernel is the monomorphized kernel for bigint channels.
type int64Kernel struct {
	batches  []*page.Int64Block
	hasher   types.Hashable
	comparer types.Comparable
}

func buildInt64Kernel(batches []page.Block, hasher types.Hashable, comparer types.Comparable) channelKernel {
	typed := make([]*page.Int64Block, len(batches))
	for i, b := range batches {
		tb, ok := b.(*page.Int64Block)
		if !ok {
			return nil
		}
		typed[i] = tb
	}
	return &int64Kernel{batches: typed, hasher: hasher, comparer: comparer}
}

func (k *int64Kernel) hashPosition(batch, position int) int32 {
	b := k.batches[batch]
	if b.IsNull(position) {
		return 0
	}
	return types.HashInt64(b.Int64(position))
}

func (k *int64Kernel) hashBlock(b page.Block, position int) int32 {
	if b.IsNull(position) {
		return 0
	}
	if tb, ok := b.(*page.Int64Block); ok {
		return types.HashInt64(tb.Int64(position))
	}
	return k.hasher.Hash(b, position)
}

func (k *int64Kernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	l := k.batches[batch]
	lNull, rNull := l.IsNull(position), r.IsNull(rPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	if tr, ok := r.(*page.Int64Block); ok {
		return l.Int64(position) == tr.Int64(rPosition)
	}
	return k.comparer.EqualTo(l, position, r, rPosition)
}

func (k *int64Kernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	l, r := k.batches[leftBatch], k.batches[rightBatch]
	lNull, rNull := l.IsNull(leftPosition), r.IsNull(rightPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	return l.Int64(leftPosition) == r.Int64(rightPosition)
}

// float64Kernel is the monomorphized kernel for double channels.
type float64Kernel struct {
	batches  []*page.Float64Block
	hasher   types.Hashable
	comparer types.Comparable
}

func buildFloat64Kernel(batches []page.Block, hasher types.Hashable, comparer types.Comparable) channelKernel {
	typed := make([]*page.Float64Block, len(batches))
	for i, b := range batches {
		tb, ok := b.(*page.Float64Block)
		if !ok {
			return nil
		}
		typed[i] = tb
	}
	return &float64Kernel{batches: typed, hasher: hasher, comparer: comparer}
}

func (k *float64Kernel) hashPosition(batch, position int) int32 {
	b := k.batches[batch]
	if b.IsNull(position) {
		return 0
	}
	return types.HashFloat64(b.Float64(position))
}

func (k *float64Kernel) hashBlock(b page.Block, position int) int32 {
	if b.IsNull(position) {
		return 0
	}
	if tb, ok := b.(*page.Float64Block); ok {
		return types.HashFloat64(tb.Float64(position))
	}
	return k.hasher.Hash(b, position)
}

func (k *float64Kernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	l := k.batches[batch]
	lNull, rNull := l.IsNull(position), r.IsNull(rPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	if tr, ok := r.(*page.Float64Block); ok {
		return l.Float64(position) == tr.Float64(rPosition)
	}
	return k.comparer.EqualTo(l, position, r, rPosition)
}

func (k *float64Kernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	l, r := k.batches[leftBatch], k.batches[rightBatch]
	lNull, rNull := l.IsNull(leftPosition), r.IsNull(rightPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	return l.Float64(leftPosition) == r.Float64(rightPosition)
}

// boolKernel is the monomorphized kernel for boolean channels.
type boolKernel struct {
	batches  []*page.BoolBlock
	hasher   types.Hashable
	comparer types.Comparable
}

func buildBoolKernel(batches []page.Block, hasher types.Hashable, comparer types.Comparable) channelKernel {
	typed := make([]*page.BoolBlock, len(batches))
	for i, b := range batches {
		tb, ok := b.(*page.BoolBlock)
		if !ok {
			return nil
		}
		typed[i] = tb
	}
	return &boolKernel{batches: typed, hasher: hasher, comparer: comparer}
}

func (k *boolKernel) hashPosition(batch, position int) int32 {
	b := k.batches[batch]
	if b.IsNull(position) {
		return 0
	}
	return types.HashBool(b.Bool(position))
}

func (k *boolKernel) hashBlock(b page.Block, position int) int32 {
	if b.IsNull(position) {
		return 0
	}
	if tb, ok := b.(*page.BoolBlock); ok {
		return types.HashBool(tb.Bool(position))
	}
	return k.hasher.Hash(b, position)
}

func (k *boolKernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	l := k.batches[batch]
	lNull, rNull := l.IsNull(position), r.IsNull(rPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	if tr, ok := r.(*page.BoolBlock); ok {
		return l.Bool(position) == tr.Bool(rPosition)
	}
	return k.comparer.EqualTo(l, position, r, rPosition)
}

func (k *boolKernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	l, r := k.batches[leftBatch], k.batches[rightBatch]
	lNull, rNull := l.IsNull(leftPosition), r.IsNull(rightPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	return l.Bool(leftPosition) == r.Bool(rightPosition)
}

// bytesKernel is the monomorphized kernel for varbinary channels.
type bytesKernel struct {
	batches  []*page.BytesBlock
	hasher   types.Hashable
	comparer types.Comparable
}

func buildBytesKernel(batches []page.Block, hasher types.Hashable, comparer types.Comparable) channelKernel {
	typed := make([]*page.BytesBlock, len(batches))
	for i, b := range batches {
		tb, ok := b.(*page.BytesBlock)
		if !ok {
			return nil
		}
		typed[i] = tb
	}
	return &bytesKernel{batches: typed, hasher: hasher, comparer: comparer}
}

func (k *bytesKernel) hashPosition(batch, position int) int32 {
	b := k.batches[batch]
	if b.IsNull(position) {
		return 0
	}
	return types.HashBytes(b.Bytes(position))
}

func (k *bytesKernel) hashBlock(b page.Block, position int) int32 {
	if b.IsNull(position) {
		return 0
	}
	if tb, ok := b.(*page.BytesBlock); ok {
		return types.HashBytes(tb.Bytes(position))
	}
	return k.hasher.Hash(b, position)
}

func (k *bytesKernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	l := k.batches[batch]
	lNull, rNull := l.IsNull(position), r.IsNull(rPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	if tr, ok := r.(*page.BytesBlock); ok {
		return bytes.Equal(l.Bytes(position), tr.Bytes(rPosition))
	}
	return k.comparer.EqualTo(l, position, r, rPosition)
}

func (k *bytesKernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	l, r := k.batches[leftBatch], k.batches[rightBatch]
	lNull, rNull := l.IsNull(leftPosition), r.IsNull(rightPosition)
	if lNull || rNull {
		return lNull && rNull
	}
	return bytes.Equal(l.Bytes(leftPosition), r.Bytes(rightPosition))
}

// verifyKernel cross-checks a specialized kernel against the vtable path.
// Diagnostics only, enabled by the verify-kernels option.
type verifyKernel struct {
	fast  channelKernel
	slow  channelKernel
	shape string
}

func (k *verifyKernel) hashPosition(batch, position int) int32 {
	got := k.fast.hashPosition(batch, position)
	if want := k.slow.hashPosition(batch, position); got != want {
		k.reportMismatch("hashPosition", got, want)
	}
	return got
}

func (k *verifyKernel) hashBlock(b page.Block, position int) int32 {
	got := k.fast.hashBlock(b, position)
	if want := k.slow.hashBlock(b, position); got != want {
		k.reportMismatch("hashBlock", got, want)
	}
	return got
}

func (k *verifyKernel) positionEqualsBlock(batch, position int, r page.Block, rPosition int) bool {
	got := k.fast.positionEqualsBlock(batch, position, r, rPosition)
	if want := k.slow.positionEqualsBlock(batch, position, r, rPosition); got != want {
		k.reportMismatch("positionEqualsBlock", got, want)
	}
	return got
}

func (k *verifyKernel) positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition int) bool {
	got := k.fast.positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition)
	if want := k.slow.positionEqualsPosition(leftBatch, leftPosition, rightBatch, rightPosition); got != want {
		k.reportMismatch("positionEqualsPosition", got, want)
	}
	return got
}

func (k *verifyKernel) reportMismatch(op string, got, want any) {
	log.Error("specialized join kernel diverges from generic path",
		zap.String("op", op),
		zap.String("shape", k.shape),
		zap.Any("got", got),
		zap.Any("want", want))
}
