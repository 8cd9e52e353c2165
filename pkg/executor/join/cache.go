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
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/metrics"
	"github.com/trellisdb/trellis/pkg/types"
)

// CompileLookupSourceFactory returns the lookup-source factory for the
// shape, compiling it at most once. Entries never expire; the cache is
// bounded by entry count with least-recently-used eviction on insert
// overflow. Concurrent misses for the same shape are collapsed into one
// compilation; waiters block until it finishes.
//
// Shape and type validation runs before the cache is consulted so that
// invalid shapes fail here and are never cached.
func (c *Compiler) CompileLookupSourceFactory(ts []types.Type, joinChannels []int) (*LookupSourceFactory, error) {
	if err := validateShape(ts, joinChannels); err != nil {
		return nil, errors.Trace(err)
	}
	key := shapeKey(ts, joinChannels)
	if item := c.cache.Get(key); item != nil {
		metrics.StrategyCacheCounter.WithLabelValues(metrics.LblHit).Inc()
		return item.Value(), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// A racing caller may have finished compiling between our cache
		// miss and acquiring the flight.
		if item := c.cache.Get(key); item != nil {
			metrics.StrategyCacheCounter.WithLabelValues(metrics.LblHit).Inc()
			return item.Value(), nil
		}
		metrics.StrategyCacheCounter.WithLabelValues(metrics.LblMiss).Inc()
		start := time.Now()
		sf, err := c.CompileStrategyFactory(ts, joinChannels)
		if err != nil {
			metrics.StrategyCompileCounter.WithLabelValues("error").Inc()
			return nil, errors.Trace(err)
		}
		factory := &LookupSourceFactory{strategyFactory: sf}
		c.cache.Set(key, factory, ttlcache.NoTTL)
		metrics.StrategyCompileCounter.WithLabelValues("ok").Inc()
		metrics.StrategyCompileDuration.Observe(time.Since(start).Seconds())
		if c.cfg.LogCompilation {
			log.Info("compiled lookup source factory",
				zap.String("shape", key),
				zap.Duration("elapsed", time.Since(start)))
		}
		return factory, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return v.(*LookupSourceFactory), nil
}

// CacheLen returns the number of compiled shapes currently retained.
func (c *Compiler) CacheLen() int {
	return c.cache.Len()
}
