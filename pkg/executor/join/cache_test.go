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
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis/pkg/config"
	"github.com/trellisdb/trellis/pkg/metrics"
	"github.com/trellisdb/trellis/pkg/types"
)

func TestShapeKeyValueEquality(t *testing.T) {
	k1 := shapeKey([]types.Type{types.Bigint, types.Varbinary}, []int{0, 1})
	k2 := shapeKey([]types.Type{types.Bigint, types.Varbinary}, []int{0, 1})
	require.Equal(t, k1, k2)

	// Same types, different channel order: distinct shapes.
	k3 := shapeKey([]types.Type{types.Bigint, types.Varbinary}, []int{1, 0})
	require.NotEqual(t, k1, k3)

	// Channel list must not bleed into the type list.
	k4 := shapeKey([]types.Type{types.Bigint}, nil)
	k5 := shapeKey([]types.Type{types.Bigint}, []int{0})
	require.NotEqual(t, k4, k5)
}

func TestCompileLookupSourceFactoryMemoizes(t *testing.T) {
	c := newTestCompiler()
	ts := []types.Type{types.Bigint, types.Varbinary}

	f1, err := c.CompileLookupSourceFactory(ts, []int{0})
	require.NoError(t, err)
	f2, err := c.CompileLookupSourceFactory(ts, []int{0})
	require.NoError(t, err)
	require.Same(t, f1, f2)

	f3, err := c.CompileLookupSourceFactory(ts, []int{1})
	require.NoError(t, err)
	require.NotSame(t, f1, f3)
	require.Equal(t, 2, c.CacheLen())
}

func TestInvalidShapesAreNotCached(t *testing.T) {
	c := newTestCompiler()
	_, err := c.CompileLookupSourceFactory([]types.Type{types.Bigint}, []int{5})
	require.ErrorIs(t, err, ErrInvalidShape)
	require.Equal(t, 0, c.CacheLen())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCompiler(config.JoinCompiler{CacheCapacity: 2})
	bigint := []types.Type{types.Bigint}

	fA, err := c.CompileLookupSourceFactory(bigint, []int{0})
	require.NoError(t, err)
	_, err = c.CompileLookupSourceFactory(bigint, []int{0, 0})
	require.NoError(t, err)

	// Touch A so the second shape becomes the eviction candidate.
	fA2, err := c.CompileLookupSourceFactory(bigint, []int{0})
	require.NoError(t, err)
	require.Same(t, fA, fA2)

	// Inserting a third shape overflows the capacity of two.
	_, err = c.CompileLookupSourceFactory(bigint, []int{0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, 2, c.CacheLen())

	// A survived; the untouched shape was recompiled from scratch.
	fA3, err := c.CompileLookupSourceFactory(bigint, []int{0})
	require.NoError(t, err)
	require.Same(t, fA, fA3)
}

func TestConcurrentMissesCompileOnce(t *testing.T) {
	c := newTestCompiler()
	// A shape no other test compiles, so the first miss happens here.
	ts := []types.Type{types.Double, types.Boolean, types.Varbinary}
	joinChannels := []int{2, 0, 1}

	missBefore := testutil.ToFloat64(metrics.StrategyCacheCounter.WithLabelValues(metrics.LblMiss))
	okBefore := testutil.ToFloat64(metrics.StrategyCompileCounter.WithLabelValues("ok"))

	const goroutines = 16
	results := make([]*LookupSourceFactory, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.CompileLookupSourceFactory(ts, joinChannels)
			require.NoError(t, err)
			results[i] = f
		}(i)
	}
	wg.Wait()

	for _, f := range results {
		require.Same(t, results[0], f)
	}
	missAfter := testutil.ToFloat64(metrics.StrategyCacheCounter.WithLabelValues(metrics.LblMiss))
	okAfter := testutil.ToFloat64(metrics.StrategyCompileCounter.WithLabelValues("ok"))
	require.Equal(t, float64(1), missAfter-missBefore)
	require.Equal(t, float64(1), okAfter-okBefore)
}
