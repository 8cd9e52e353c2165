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
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis/pkg/config"
	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/page"
)

func newTestCompiler() *Compiler {
	return NewCompiler(config.JoinCompiler{CacheCapacity: 16})
}

// int64Block builds an Int64Block where nil entries are nulls.
func int64Block(values ...*int64) *page.Int64Block {
	vals := make([]int64, len(values))
	nulls := make([]bool, len(values))
	hasNull := false
	for i, v := range values {
		if v == nil {
			nulls[i] = true
			hasNull = true
		} else {
			vals[i] = *v
		}
	}
	if !hasNull {
		nulls = nil
	}
	return page.NewInt64Block(vals, nulls)
}

func i64(v int64) *int64 { return &v }

func bytesBlock(values ...string) *page.BytesBlock {
	vals := make([][]byte, len(values))
	for i, v := range values {
		vals[i] = []byte(v)
	}
	return page.NewBytesBlock(vals, nil)
}

func buildIndex(t *testing.T, ts []types.Type, pages ...*page.Page) *PagesIndex {
	idx := NewPagesIndex(ts)
	for _, p := range pages {
		require.NoError(t, idx.AddPage(p))
	}
	return idx
}

func buildLookupSource(t *testing.T, ts []types.Type, joinChannels []int, pages ...*page.Page) *LookupSource {
	factory, err := newTestCompiler().CompileLookupSourceFactory(ts, joinChannels)
	require.NoError(t, err)
	idx := buildIndex(t, ts, pages...)
	ls, err := idx.CreateLookupSource(factory, nil)
	require.NoError(t, err)
	return ls
}

// enumerateMatches probes with one row and walks the duplicate chain.
func enumerateMatches(ls *LookupSource, probePosition int, probeBlocks []page.Block) []Address {
	var out []Address
	for a := ls.GetJoinPosition(probePosition, probeBlocks); a != AddressNotFound; a = ls.GetNextJoinPosition(a, probePosition, probeBlocks) {
		out = append(out, a)
	}
	return out
}

// timestampType behaves like bigint but is absent from the specialized
// kernel table, so it exercises the vtable path.
type timestampType struct{}

func (timestampType) Name() string { return "timestamp" }

func (timestampType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewInt64Builder(capacity)
}

func (timestampType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.Int64Builder).AppendInt64(b.(*page.Int64Block).Int64(pos))
}

func (timestampType) Hash(b page.Block, pos int) int32 {
	return types.HashInt64(b.(*page.Int64Block).Int64(pos))
}

func (timestampType) EqualTo(l page.Block, lp int, r page.Block, rp int) bool {
	return l.(*page.Int64Block).Int64(lp) == r.(*page.Int64Block).Int64(rp)
}

// mapType implements Type only, so it cannot participate in join keys.
type mapType struct{}

func (mapType) Name() string { return "map" }

func (mapType) NewBlockBuilder(capacity int) page.BlockBuilder {
	return page.NewBytesBuilder(capacity)
}

func (mapType) AppendTo(b page.Block, pos int, out page.BlockBuilder) {
	if b.IsNull(pos) {
		out.AppendNull()
		return
	}
	out.(*page.BytesBuilder).AppendBytes(b.(*page.BytesBlock).Bytes(pos))
}

// slicePageSource replays a fixed list of pages.
type slicePageSource struct {
	pages []*page.Page
	next  int
}

func (s *slicePageSource) Next(context.Context) (*page.Page, error) {
	if s.next >= len(s.pages) {
		return nil, nil
	}
	p := s.pages[s.next]
	s.next++
	return p, nil
}

// errPageSource yields its pages, then an error.
type errPageSource struct {
	pages []*page.Page
	err   error
	next  int
}

func (s *errPageSource) Next(context.Context) (*page.Page, error) {
	if s.next >= len(s.pages) {
		return nil, s.err
	}
	p := s.pages[s.next]
	s.next++
	return p, nil
}
