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
	"sync"
	"sync/atomic"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/trellisdb/trellis/pkg/types"
	"github.com/trellisdb/trellis/pkg/util/page"
)

// DefMaxRowsPerOutputPage caps the rows accumulated in one output page
// before a probe worker emits it.
const DefMaxRowsPerOutputPage = 1024

// PageSource produces the pages of one join side. Next returns nil when the
// source is exhausted.
type PageSource interface {
	Next(ctx context.Context) (*page.Page, error)
}

// joinWorkerResult stores the result of probe workers. `src` is for builder
// reuse: the main goroutine hands the built page to the caller and pushes
// the spent builder back into `src`, and the worker picks it up for its
// next output page.
type joinWorkerResult struct {
	page    *page.Page
	err     error
	builder *page.Builder
	src     chan<- *page.Builder
}

// HashJoinExec drives an in-memory inner hash join over the kernel: it
// drains the build side into a pages index on a single goroutine, creates a
// lookup source through the compiler, then probes it with Concurrency
// workers. The lookup source is frozen before the first probe, so workers
// share it without locks.
type HashJoinExec struct {
	BuildSide PageSource
	ProbeSide PageSource
	// BuildTypes and ProbeTypes are the full type vectors of the two sides.
	BuildTypes []types.Type
	ProbeTypes []types.Type
	// BuildJoinChannels and ProbeJoinChannels select the join-key columns;
	// the k-th entries of both must be of the same type.
	BuildJoinChannels []int
	ProbeJoinChannels []int
	// Concurrency is the number of probe workers.
	Concurrency uint
	Compiler    *Compiler
	OpCtx       *OperatorContext
	// MaxRowsPerOutputPage overrides DefMaxRowsPerOutputPage when positive.
	MaxRowsPerOutputPage int

	lookupSource *LookupSource
	// closeCh is closed once by Close to signal shutdown to the pipeline
	// goroutines.
	closeCh     chan struct{}
	finished    atomic.Bool
	closeOnce   sync.Once
	workerWg    sync.WaitGroup
	probePageCh chan *page.Page
	// joinBuilderChs recycle each worker's output builder between the
	// worker and the main goroutine.
	joinBuilderChs []chan *page.Builder
	joinResultCh   chan *joinWorkerResult
	prepared       bool
}

// Open prepares the executor for Next calls.
func (e *HashJoinExec) Open(ctx context.Context) error {
	if e.Compiler == nil {
		return errors.New("hash join executor requires a compiler")
	}
	if len(e.BuildJoinChannels) != len(e.ProbeJoinChannels) {
		return errors.Annotatef(ErrInvalidShape, "%d build join channels vs %d probe join channels",
			len(e.BuildJoinChannels), len(e.ProbeJoinChannels))
	}
	if e.Concurrency == 0 {
		e.Concurrency = 1
	}
	if e.MaxRowsPerOutputPage <= 0 {
		e.MaxRowsPerOutputPage = DefMaxRowsPerOutputPage
	}
	e.closeCh = make(chan struct{})
	e.prepared = false
	return nil
}

// Next returns the next joined output page, or nil when the join is
// exhausted. The join runs in two steps: first drain the build side and
// build the lookup source, then fetch probe pages in a background goroutine
// and probe in multiple workers.
func (e *HashJoinExec) Next(ctx context.Context) (*page.Page, error) {
	if !e.prepared {
		if err := e.fetchAndBuildLookupSource(ctx); err != nil {
			e.finished.Store(true)
			return nil, errors.Trace(err)
		}
		e.fetchAndProbeLookupSource(ctx)
		e.prepared = true
	}
	result, ok := <-e.joinResultCh
	if !ok {
		return nil, nil
	}
	if result.err != nil {
		e.finished.Store(true)
		return nil, errors.Trace(result.err)
	}
	// The built page owns its data; the spent builder goes straight back to
	// its worker for the next output page.
	if result.src != nil {
		result.src <- result.builder
	}
	return result.page, nil
}

// Close shuts the pipeline down and waits for in-flight workers to drain.
func (e *HashJoinExec) Close() error {
	e.finished.Store(true)
	e.closeOnce.Do(func() {
		if e.closeCh != nil {
			close(e.closeCh)
		}
	})
	if e.prepared && e.joinResultCh != nil {
		for range e.joinResultCh {
		}
	}
	return nil
}

// fetchBuildSidePages fetches all pages from the build side in a background
// goroutine and sends them to pageCh, which is read by the index-building
// loop.
func (e *HashJoinExec) fetchBuildSidePages(ctx context.Context, pageCh chan<- *page.Page, errCh chan<- error, doneCh <-chan struct{}) {
	defer close(pageCh)
	defer func() {
		if r := recover(); r != nil {
			errCh <- errors.Errorf("build side fetch panicked: %v", r)
		}
	}()
	for {
		if e.finished.Load() {
			return
		}
		p, err := e.BuildSide.Next(ctx)
		failpoint.Inject("buildSideFetchError", func(val failpoint.Value) {
			if val.(bool) {
				err = errors.New("buildSideFetchError")
			}
		})
		if err != nil {
			errCh <- errors.Trace(err)
			return
		}
		if p == nil {
			return
		}
		if p.NumRows() == 0 {
			continue
		}
		select {
		case <-doneCh:
			return
		case <-e.closeCh:
			return
		case pageCh <- p:
		}
	}
}

func (e *HashJoinExec) fetchAndBuildLookupSource(ctx context.Context) error {
	factory, err := e.Compiler.CompileLookupSourceFactory(e.BuildTypes, e.BuildJoinChannels)
	if err != nil {
		return errors.Trace(err)
	}
	idx := NewPagesIndex(e.BuildTypes)
	pageCh := make(chan *page.Page, e.Concurrency)
	errCh := make(chan error, 1)
	doneCh := make(chan struct{})
	go e.fetchBuildSidePages(ctx, pageCh, errCh, doneCh)

	// The index is appended to only here, on the caller's goroutine.
	for p := range pageCh {
		if err := idx.AddPage(p); err != nil {
			close(doneCh)
			for range pageCh {
			}
			return errors.Trace(err)
		}
	}
	select {
	case err := <-errCh:
		return errors.Trace(err)
	default:
	}

	e.lookupSource, err = idx.CreateLookupSource(factory, e.OpCtx)
	if err != nil {
		return errors.Trace(err)
	}
	log.Info("built join lookup source",
		zap.Int("rows", e.lookupSource.JoinPositionCount()),
		zap.Int("batches", idx.BatchCount()),
		zap.Int64("retainedBytes", e.lookupSource.RetainedSizeBytes()))
	return nil
}

// fetchProbeSidePages fetches pages from the probe side in a background
// goroutine and sends them to probePageCh, which is read by the probe
// workers.
func (e *HashJoinExec) fetchProbeSidePages(ctx context.Context) {
	defer close(e.probePageCh)
	defer func() {
		if r := recover(); r != nil {
			e.sendResult(&joinWorkerResult{err: errors.Errorf("probe side fetch panicked: %v", r)})
		}
	}()
	for {
		if e.finished.Load() {
			return
		}
		p, err := e.ProbeSide.Next(ctx)
		failpoint.Inject("probeSideFetchError", func(val failpoint.Value) {
			if val.(bool) {
				err = errors.New("probeSideFetchError")
			}
		})
		if err != nil {
			e.sendResult(&joinWorkerResult{err: errors.Trace(err)})
			return
		}
		if p == nil {
			return
		}
		if p.NumRows() == 0 {
			continue
		}
		select {
		case <-e.closeCh:
			return
		case e.probePageCh <- p:
		}
	}
}

func (e *HashJoinExec) fetchAndProbeLookupSource(ctx context.Context) {
	e.probePageCh = make(chan *page.Page, e.Concurrency)
	e.joinResultCh = make(chan *joinWorkerResult, e.Concurrency+1)
	if e.lookupSource.IsEmpty() {
		// An inner join with an empty build side emits nothing; skip the
		// probe entirely.
		close(e.probePageCh)
		close(e.joinResultCh)
		return
	}
	outputTypes := make([]types.Type, 0, len(e.ProbeTypes)+len(e.BuildTypes))
	outputTypes = append(outputTypes, e.ProbeTypes...)
	outputTypes = append(outputTypes, e.BuildTypes...)
	// e.joinBuilderChs is for transmitting the reused output builders from
	// the main goroutine back to the probe worker goroutines.
	e.joinBuilderChs = make([]chan *page.Builder, e.Concurrency)
	for i := uint(0); i < e.Concurrency; i++ {
		e.joinBuilderChs[i] = make(chan *page.Builder, 1)
		e.joinBuilderChs[i] <- types.NewPageBuilder(outputTypes, e.MaxRowsPerOutputPage)
	}
	go e.fetchProbeSidePages(ctx)
	for i := uint(0); i < e.Concurrency; i++ {
		e.workerWg.Add(1)
		go e.runJoinWorker(i)
	}
	go e.waitJoinWorkersAndCloseResultChan()
}

func (e *HashJoinExec) waitJoinWorkersAndCloseResultChan() {
	e.workerWg.Wait()
	close(e.joinResultCh)
}

func (e *HashJoinExec) runJoinWorker(workerID uint) {
	defer func() {
		if r := recover(); r != nil {
			e.sendResult(&joinWorkerResult{err: errors.Errorf("probe worker panicked: %v", r)})
		}
		e.workerWg.Done()
	}()
	ok, builder := e.getJoinBuilder(workerID)
	if !ok {
		return
	}
	for {
		var p *page.Page
		select {
		case <-e.closeCh:
			return
		case p, ok = <-e.probePageCh:
		}
		if !ok {
			break
		}
		builder, ok = e.joinProbePage(p, builder, workerID)
		if !ok {
			return
		}
	}
	if builder.NumRows() > 0 {
		e.sendResult(&joinWorkerResult{
			page:    builder.Build(),
			builder: builder,
			src:     e.joinBuilderChs[workerID],
		})
	}
}

// getJoinBuilder obtains the worker's output builder, waiting for the main
// goroutine to recycle it when an emitted page is still in flight. It
// reports false when the executor is shutting down.
func (e *HashJoinExec) getJoinBuilder(workerID uint) (bool, *page.Builder) {
	select {
	case <-e.closeCh:
		return false, nil
	case builder := <-e.joinBuilderChs[workerID]:
		builder.Reset()
		return true, builder
	}
}

// joinProbePage probes every row of p and appends matched row pairs to
// builder, emitting a page and cycling the builder through the resource
// channel whenever it fills up. It returns the builder to keep appending to
// and reports false when the executor is shutting down.
func (e *HashJoinExec) joinProbePage(p *page.Page, builder *page.Builder, workerID uint) (*page.Builder, bool) {
	probeBlocks := ProbeBlocks(p, e.ProbeJoinChannels)
	for row := 0; row < p.NumRows(); row++ {
		addr := e.lookupSource.GetJoinPosition(row, probeBlocks)
		for addr != AddressNotFound {
			for i, t := range e.ProbeTypes {
				t.AppendTo(p.Column(i), row, builder.BlockBuilder(i))
			}
			e.lookupSource.AppendTo(addr, builder, len(e.ProbeTypes))
			if builder.NumRows() >= e.MaxRowsPerOutputPage {
				emitted := e.sendResult(&joinWorkerResult{
					page:    builder.Build(),
					builder: builder,
					src:     e.joinBuilderChs[workerID],
				})
				if !emitted {
					return nil, false
				}
				var ok bool
				ok, builder = e.getJoinBuilder(workerID)
				if !ok {
					return nil, false
				}
			}
			addr = e.lookupSource.GetNextJoinPosition(addr, row, probeBlocks)
		}
	}
	return builder, true
}

// sendResult delivers a result to the main goroutine unless the executor is
// closing. It reports false when the executor is shutting down.
func (e *HashJoinExec) sendResult(result *joinWorkerResult) bool {
	select {
	case <-e.closeCh:
		return false
	case e.joinResultCh <- result:
		return true
	}
}
