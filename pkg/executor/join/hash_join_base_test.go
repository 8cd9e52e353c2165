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
	"fmt"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/memory"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// drainJoin runs the executor to completion and returns a multiset of
// output rows rendered as strings; worker scheduling makes row order
// nondeterministic.
func drainJoin(t *testing.T, e *HashJoinExec) map[string]int {
	ctx := context.Background()
	rows := make(map[string]int)
	for {
		p, err := e.Next(ctx)
		require.NoError(t, err)
		if p == nil {
			break
		}
		for row := 0; row < p.NumRows(); row++ {
			key := ""
			for ch := 0; ch < p.ChannelCount(); ch++ {
				if p.Column(ch).IsNull(row) {
					key += "NULL|"
					continue
				}
				switch b := p.Column(ch).(type) {
				case *page.Int64Block:
					key += fmt.Sprintf("%d|", b.Int64(row))
				case *page.BytesBlock:
					key += fmt.Sprintf("%s|", b.Bytes(row))
				default:
					t.Fatalf("unexpected block type %T", b)
				}
			}
			rows[key]++
		}
	}
	return rows
}

func TestHashJoinExecInnerJoin(t *testing.T) {
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1), i64(2)), bytesBlock("a", "b")),
			page.NewPage(int64Block(i64(1)), bytesBlock("c")),
		}},
		ProbeSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1), i64(3))),
			page.NewPage(int64Block(i64(2), i64(1))),
		}},
		BuildTypes:        []types.Type{types.Bigint, types.Varbinary},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Concurrency:       2,
		Compiler:          newTestCompiler(),
		// A tiny page size to exercise mid-stream flushes.
		MaxRowsPerOutputPage: 2,
	}
	require.NoError(t, e.Open(context.Background()))

	rows := drainJoin(t, e)
	require.NoError(t, e.Close())

	// Each probe of key 1 matches build rows (1,a) and (1,c).
	require.Equal(t, map[string]int{
		"1|1|a|": 2,
		"1|1|c|": 2,
		"2|2|b|": 1,
	}, rows)
}

func TestHashJoinExecEmptyBuildSide(t *testing.T) {
	e := &HashJoinExec{
		BuildSide:         &slicePageSource{},
		ProbeSide:         &slicePageSource{pages: []*page.Page{page.NewPage(int64Block(i64(1)))}},
		BuildTypes:        []types.Type{types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Compiler:          newTestCompiler(),
	}
	require.NoError(t, e.Open(context.Background()))

	p, err := e.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, p)
	require.NoError(t, e.Close())
}

func TestHashJoinExecNullKeysMatch(t *testing.T) {
	// Join-key equality treats two nulls as equal; hosts wanting SQL
	// equality filter null keys before probing.
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(nil), int64Block(i64(5))),
		}},
		ProbeSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(nil)),
		}},
		BuildTypes:        []types.Type{types.Bigint, types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Compiler:          newTestCompiler(),
	}
	require.NoError(t, e.Open(context.Background()))

	rows := drainJoin(t, e)
	require.NoError(t, e.Close())
	require.Equal(t, map[string]int{"NULL|NULL|5|": 1}, rows)
}

func TestHashJoinExecBuildSideError(t *testing.T) {
	wantErr := errors.New("build source broken")
	e := &HashJoinExec{
		BuildSide:         &errPageSource{err: wantErr},
		ProbeSide:         &slicePageSource{},
		BuildTypes:        []types.Type{types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Compiler:          newTestCompiler(),
	}
	require.NoError(t, e.Open(context.Background()))

	_, err := e.Next(context.Background())
	require.ErrorContains(t, err, "build source broken")
	require.NoError(t, e.Close())
}

func TestHashJoinExecProbeSideError(t *testing.T) {
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1))),
		}},
		ProbeSide: &errPageSource{
			pages: []*page.Page{page.NewPage(int64Block(i64(1)))},
			err:   errors.New("probe source broken"),
		},
		BuildTypes:        []types.Type{types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Concurrency:       2,
		Compiler:          newTestCompiler(),
	}
	require.NoError(t, e.Open(context.Background()))

	var sawErr bool
	for {
		p, err := e.Next(context.Background())
		if err != nil {
			require.ErrorContains(t, err, "probe source broken")
			sawErr = true
			break
		}
		if p == nil {
			break
		}
	}
	require.True(t, sawErr)
	require.NoError(t, e.Close())
}

func TestHashJoinExecCloseMidStream(t *testing.T) {
	// Many probe pages, one result consumed, then Close; all pipeline
	// goroutines must drain (enforced by the package goleak TestMain).
	var probePages []*page.Page
	for i := 0; i < 64; i++ {
		probePages = append(probePages, page.NewPage(int64Block(i64(1), i64(1), i64(1))))
	}
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1), i64(1))),
		}},
		ProbeSide:            &slicePageSource{pages: probePages},
		BuildTypes:           []types.Type{types.Bigint},
		ProbeTypes:           []types.Type{types.Bigint},
		BuildJoinChannels:    []int{0},
		ProbeJoinChannels:    []int{0},
		Concurrency:          2,
		Compiler:             newTestCompiler(),
		MaxRowsPerOutputPage: 4,
	}
	require.NoError(t, e.Open(context.Background()))

	p, err := e.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, e.Close())
}

func TestHashJoinExecReversedChannels(t *testing.T) {
	// Build keyed on (ch1, ch0), probe keyed on (ch0, ch1): the k-th join
	// channels line up even though the physical layouts differ.
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1)), int64Block(i64(2))),
		}},
		ProbeSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(2)), int64Block(i64(1))),
		}},
		BuildTypes:        []types.Type{types.Bigint, types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint, types.Bigint},
		BuildJoinChannels: []int{1, 0},
		ProbeJoinChannels: []int{0, 1},
		Compiler:          newTestCompiler(),
	}
	require.NoError(t, e.Open(context.Background()))

	rows := drainJoin(t, e)
	require.NoError(t, e.Close())
	require.Equal(t, map[string]int{"2|1|1|2|": 1}, rows)
}

func TestHashJoinExecTracksMemory(t *testing.T) {
	tracker := memory.NewTracker("query")
	e := &HashJoinExec{
		BuildSide: &slicePageSource{pages: []*page.Page{
			page.NewPage(int64Block(i64(1), i64(2), i64(3))),
		}},
		ProbeSide:         &slicePageSource{},
		BuildTypes:        []types.Type{types.Bigint},
		ProbeTypes:        []types.Type{types.Bigint},
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0},
		Compiler:          newTestCompiler(),
		OpCtx:             &OperatorContext{MemTracker: tracker},
	}
	require.NoError(t, e.Open(context.Background()))
	_, err := e.Next(context.Background())
	require.NoError(t, err)
	require.Positive(t, tracker.BytesConsumed())
	require.NoError(t, e.Close())
}

func TestHashJoinExecMismatchedJoinChannels(t *testing.T) {
	e := &HashJoinExec{
		BuildJoinChannels: []int{0},
		ProbeJoinChannels: []int{0, 1},
		Compiler:          newTestCompiler(),
	}
	err := e.Open(context.Background())
	require.ErrorIs(t, err, ErrInvalidShape)
}
