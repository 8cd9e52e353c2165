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

// Package metrics defines the prometheus collectors exported by the join
// kernel compiler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values for StrategyCacheCounter.
const (
	LblHit   = "hit"
	LblMiss  = "miss"
	LblEvict = "evict"
)

var (
	// StrategyCompileCounter counts strategy factory compilations by result.
	StrategyCompileCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "executor",
			Name:      "join_strategy_compile_total",
			Help:      "Counter of join strategy factory compilations.",
		}, []string{"result"})

	// StrategyCacheCounter counts specialization cache events.
	StrategyCacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trellis",
			Subsystem: "executor",
			Name:      "join_strategy_cache_total",
			Help:      "Counter of join specialization cache hits, misses and evictions.",
		}, []string{"type"})

	// StrategyCompileDuration observes the wall time of one compilation.
	StrategyCompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "trellis",
			Subsystem: "executor",
			Name:      "join_strategy_compile_duration_seconds",
			Help:      "Bucketed histogram of join strategy compile latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00004, 2, 20),
		})
)

// RegisterMetrics registers all collectors with r.
func RegisterMetrics(r prometheus.Registerer) {
	r.MustRegister(StrategyCompileCounter)
	r.MustRegister(StrategyCacheCounter)
	r.MustRegister(StrategyCompileDuration)
}
