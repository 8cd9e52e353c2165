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

// Package config holds the engine configuration file format.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// DefJoinCompilerCacheCapacity is the default number of compiled join
// shapes retained by the specialization cache.
const DefJoinCompilerCacheCapacity = 1000

// Config is the top-level configuration.
type Config struct {
	JoinCompiler JoinCompiler `toml:"join-compiler" json:"join-compiler"`
}

// JoinCompiler configures the join kernel specialization engine. The dump
// and verify options are diagnostics and have no semantic effect.
type JoinCompiler struct {
	// CacheCapacity bounds the specialization cache entry count.
	CacheCapacity uint64 `toml:"cache-capacity" json:"cache-capacity"`
	// DumpKernelPlan logs the kernel selected for each join channel when a
	// factory is compiled.
	DumpKernelPlan bool `toml:"dump-kernel-plan" json:"dump-kernel-plan"`
	// LogCompilation logs every cache miss compilation with its shape.
	LogCompilation bool `toml:"log-compilation" json:"log-compilation"`
	// VerifyKernels cross-checks specialized kernels against the generic
	// path on every call. Slow; intended for debugging only.
	VerifyKernels bool `toml:"verify-kernels" json:"verify-kernels"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		JoinCompiler: JoinCompiler{
			CacheCapacity: DefJoinCompilerCacheCapacity,
		},
	}
}

// Load merges the TOML file at path into the config.
func (c *Config) Load(path string) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Trace(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("config file %s contains unknown configuration options: %v", path, undecoded)
	}
	return nil
}

// Validate checks the configuration for invalid settings.
func (c *Config) Validate() error {
	if c.JoinCompiler.CacheCapacity == 0 {
		return errors.New("join-compiler.cache-capacity must be positive")
	}
	return nil
}
