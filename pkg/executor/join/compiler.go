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
	"strconv"
	"strings"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/trellisdb/trellis/pkg/config"
	"github.com/trellisdb/trellis/pkg/metrics"
	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/memory"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// OperatorContext carries the per-operator resources a lookup source build
// charges against.
type OperatorContext struct {
	// MemTracker accounts the retained size of built lookup sources. May be
	// nil.
	MemTracker *memory.Tracker
}

// Compiler is the kernel specialization engine. It turns a join shape
// (type vector plus join-channel indices) into strategy and lookup-source
// factories, memoizing the result per shape. A single Compiler is shared by
// all queries of an engine instance and is safe for concurrent use.
type Compiler struct {
	cfg   config.JoinCompiler
	cache *ttlcache.Cache[string, *LookupSourceFactory]
	group singleflight.Group
}

// NewCompiler creates a compiler with the given configuration. A zero cache
// capacity falls back to the default.
func NewCompiler(cfg config.JoinCompiler) *Compiler {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = config.DefJoinCompilerCacheCapacity
	}
	cache := ttlcache.New[string, *LookupSourceFactory](
		ttlcache.WithCapacity[string, *LookupSourceFactory](cfg.CacheCapacity),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *LookupSourceFactory]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			metrics.StrategyCacheCounter.WithLabelValues(metrics.LblEvict).Inc()
			log.Info("evicted compiled join shape", zap.String("shape", item.Key()))
		}
	})
	return &Compiler{cfg: cfg, cache: cache}
}

// shapeKey renders a join shape as its cache key. Key equality coincides
// with value equality of (type vector, join channels) because type names
// are canonical.
func shapeKey(ts []types.Type, joinChannels []int) string {
	var sb strings.Builder
	for i, t := range ts {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.Name())
	}
	sb.WriteByte('/')
	for i, ch := range joinChannels {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(ch))
	}
	return sb.String()
}

// validateShape checks the join shape. Shape and type errors surface here,
// at compile-factory time, never during probing.
func validateShape(ts []types.Type, joinChannels []int) error {
	if len(ts) == 0 {
		return errors.Annotate(ErrInvalidShape, "empty type vector")
	}
	for i, ch := range joinChannels {
		if ch < 0 || ch >= len(ts) {
			return errors.Annotatef(ErrInvalidShape, "join channel %d index %d out of range [0, %d)", i, ch, len(ts))
		}
	}
	for _, ch := range joinChannels {
		t := ts[ch]
		if _, ok := t.(types.Hashable); !ok {
			return errors.Annotatef(ErrUnsupportedType, "type %s on join channel %d is not hashable", t.Name(), ch)
		}
		if _, ok := t.(types.Comparable); !ok {
			return errors.Annotatef(ErrUnsupportedType, "type %s on join channel %d is not comparable", t.Name(), ch)
		}
	}
	return nil
}

// CompileStrategyFactory produces a strategy factory for the shape. The
// result is deterministic for a given shape: the kernel selected for each
// join channel is a pure function of its type.
func (c *Compiler) CompileStrategyFactory(ts []types.Type, joinChannels []int) (*StrategyFactory, error) {
	if err := validateShape(ts, joinChannels); err != nil {
		return nil, errors.Trace(err)
	}
	factories := make([]kernelFactory, len(joinChannels))
	for i, ch := range joinChannels {
		f, err := makeKernelFactory(ts[ch])
		if err != nil {
			return nil, errors.Annotatef(err, "join channel %d type %s", i, ts[ch].Name())
		}
		factories[i] = f
	}
	if c.cfg.DumpKernelPlan {
		names := make([]string, len(factories))
		for i, f := range factories {
			names[i] = f.name
		}
		log.Info("join kernel plan",
			zap.String("shape", shapeKey(ts, joinChannels)),
			zap.Strings("kernels", names))
	}
	typesCopy := make([]types.Type, len(ts))
	copy(typesCopy, ts)
	channelsCopy := make([]int, len(joinChannels))
	copy(channelsCopy, joinChannels)
	return &StrategyFactory{
		types:           typesCopy,
		joinChannels:    channelsCopy,
		kernelFactories: factories,
		verify:          c.cfg.VerifyKernels,
	}, nil
}

// StrategyFactory creates ready strategies for one join shape. Creation
// binds the compile-time kernel plan to a concrete per-channel block
// sequence and does no per-row work.
type StrategyFactory struct {
	types           []types.Type
	joinChannels    []int
	kernelFactories []kernelFactory
	verify          bool
}

// Types returns the factory's type vector.
func (f *StrategyFactory) Types() []types.Type { return f.types }

// JoinChannels returns the factory's join-channel indices.
func (f *StrategyFactory) JoinChannels() []int { return f.joinChannels }

// CreateStrategy binds the factory to the build-side blocks. channels holds
// one block sequence per channel; all sequences must have the same length,
// one block per appended page.
func (f *StrategyFactory) CreateStrategy(channels [][]page.Block) PagesHashStrategy {
	if len(channels) != len(f.types) {
		panic("join: channel count does not match strategy type vector")
	}
	hashChannels := make([][]page.Block, len(f.joinChannels))
	kernels := make([]channelKernel, len(f.joinChannels))
	for i, ch := range f.joinChannels {
		hashChannels[i] = channels[ch]
		kernels[i] = f.kernelFactories[i].build(channels[ch])
		if f.verify {
			hasher := f.types[ch].(types.Hashable)
			comparer := f.types[ch].(types.Comparable)
			kernels[i] = &verifyKernel{
				fast:  kernels[i],
				slow:  &vtableKernel{hasher: hasher, comparer: comparer, batches: channels[ch]},
				shape: shapeKey(f.types, f.joinChannels),
			}
		}
	}
	return &pagesHashStrategy{
		types:        f.types,
		channels:     channels,
		hashChannels: hashChannels,
		kernels:      kernels,
	}
}

// LookupSourceFactory creates lookup sources for one compiled join shape.
type LookupSourceFactory struct {
	strategyFactory *StrategyFactory
}

// StrategyFactory returns the underlying strategy factory.
func (f *LookupSourceFactory) StrategyFactory() *StrategyFactory { return f.strategyFactory }

// CreateLookupSource indexes the build side: it creates a strategy over
// channels, builds the hash index over addresses, and returns the probe-side
// view. The retained size is charged to the operator context's tracker.
func (f *LookupSourceFactory) CreateLookupSource(addresses []Address, channels [][]page.Block, opCtx *OperatorContext) (*LookupSource, error) {
	strategy := f.strategyFactory.CreateStrategy(channels)
	hash, err := newPagesHash(strategy, addresses)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ls := &LookupSource{
		strategy:  strategy,
		hash:      hash,
		addresses: addresses,
	}
	if opCtx != nil && opCtx.MemTracker != nil {
		opCtx.MemTracker.Consume(ls.RetainedSizeBytes())
	}
	return ls, nil
}
