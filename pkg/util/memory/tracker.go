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

// Package memory provides retained-size accounting for operator state.
package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/docker/go-units"
)

// Tracker records bytes retained by one component. Trackers form a tree;
// consumption propagates to all ancestors. Consume may be called from
// multiple goroutines.
type Tracker struct {
	label         string
	bytesConsumed atomic.Int64
	parent        *Tracker
}

// NewTracker creates a detached tracker with the given label.
func NewTracker(label string) *Tracker {
	return &Tracker{label: label}
}

// Label returns the tracker's label.
func (t *Tracker) Label() string { return t.label }

// AttachTo makes parent an ancestor of t. The current consumption of t is
// transferred into the parent chain.
func (t *Tracker) AttachTo(parent *Tracker) {
	if t.parent != nil {
		t.parent.Consume(-t.bytesConsumed.Load())
	}
	t.parent = parent
	if parent != nil {
		parent.Consume(t.bytesConsumed.Load())
	}
}

// Consume adds bytes (which may be negative for release) to the tracker and
// all its ancestors.
func (t *Tracker) Consume(bytes int64) {
	for tr := t; tr != nil; tr = tr.parent {
		tr.bytesConsumed.Add(bytes)
	}
}

// BytesConsumed returns the bytes currently charged to this tracker.
func (t *Tracker) BytesConsumed() int64 {
	return t.bytesConsumed.Load()
}

// String renders the tracker for logs.
func (t *Tracker) String() string {
	return fmt.Sprintf("%s: %s", t.label, units.BytesSize(float64(t.bytesConsumed.Load())))
}
