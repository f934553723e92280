package analysis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/ctf"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/partition"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/splitter"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// tracerName is the default OTel tracer name for the analysis package.
const tracerName = "lttng-analyses"

// DefaultThreads is the worker-pool size when none is requested.
const DefaultThreads = 4

// Options configure a run of the execution engine.
type Options struct {
	// Threads is the worker-pool size for the parallel path.
	Threads int

	// Parallel selects chunked parallel execution over the serial pass.
	Parallel bool

	// Balanced selects size-balanced partitioning (per-stream packet
	// indices) instead of equal time division.
	Balanced bool

	// Benchmark reports the wall-clock analysis time in milliseconds.
	Benchmark bool
}

// Engine runs one analyzer over a trace, either serially or as a parallel
// map over chunks folded with the analyzer's reducer.
type Engine[S any] struct {
	Analyzer Analyzer[S]
	Opts     Options

	// Opener opens an event source for a chunk's trace directory. Defaults
	// to trace.Open.
	Opener trace.OpenFunc

	// Tracer is the OTel tracer for run and chunk spans. When nil, falls
	// back to otel.Tracer("lttng-analyses").
	Tracer oteltrace.Tracer

	// Logger receives engine diagnostics. When nil, slog.Default is used.
	Logger *slog.Logger

	// BenchmarkOut receives the benchmark line. Defaults to stdout.
	BenchmarkOut io.Writer
}

func (e *Engine[S]) opener() trace.OpenFunc {
	if e.Opener != nil {
		return e.Opener
	}

	return trace.Open
}

func (e *Engine[S]) tracer() oteltrace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}

	return otel.Tracer(tracerName)
}

func (e *Engine[S]) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}

	return slog.Default()
}

func (e *Engine[S]) threads() int {
	if e.Opts.Threads > 0 {
		return e.Opts.Threads
	}

	return DefaultThreads
}

// Run executes the analysis over the trace at tracePath and returns the
// finalized result.
func (e *Engine[S]) Run(ctx context.Context, tracePath string) (S, error) {
	ctx, span := e.tracer().Start(ctx, "analysis.run",
		oteltrace.WithAttributes(
			attribute.String("analysis.name", e.Analyzer.Name()),
			attribute.Bool("analysis.parallel", e.Opts.Parallel),
			attribute.Bool("analysis.balanced", e.Opts.Balanced),
			attribute.Int("analysis.threads", e.threads()),
		))
	defer span.End()

	if !e.Opts.Parallel {
		return e.runSerial(ctx, tracePath)
	}

	return e.runParallel(ctx, tracePath)
}

// runSerial iterates the whole trace once through the analyzer's state.
func (e *Engine[S]) runSerial(ctx context.Context, tracePath string) (S, error) {
	var zero S

	src, err := e.opener()(tracePath)
	if err != nil {
		return zero, err
	}
	defer src.Close()

	started := time.Now()

	state, err := e.Analyzer.Map(ctx, src, nil, nil)
	if err != nil {
		return zero, err
	}

	e.Analyzer.Finalize(&state)
	e.reportBenchmark(started)

	return state, nil
}

// runParallel partitions the trace, maps chunks on a worker pool, folds the
// partial results and finalizes the accumulator.
func (e *Engine[S]) runParallel(ctx context.Context, tracePath string) (S, error) {
	var zero S

	chunks, cleanup, err := e.partitionTrace(tracePath)
	if cleanup != nil {
		defer cleanup()
	}

	if err != nil {
		return zero, err
	}

	if len(chunks) == 0 {
		return zero, nil
	}

	started := time.Now()

	var acc S

	if e.Analyzer.OrderedReduce() {
		states, err := e.mapChunks(ctx, chunks)
		if err != nil {
			return zero, err
		}

		for _, s := range states {
			e.Analyzer.Reduce(&acc, s)
		}
	} else {
		err := e.mapChunksUnordered(ctx, chunks, &acc)
		if err != nil {
			return zero, err
		}
	}

	e.Analyzer.Finalize(&acc)
	e.reportBenchmark(started)

	return acc, nil
}

// partitionTrace produces the chunk list for the selected policy. The
// returned cleanup removes any stream-split working tree.
func (e *Engine[S]) partitionTrace(tracePath string) ([]partition.Chunk, func(), error) {
	if !e.Opts.Balanced {
		chunks, err := e.timePartition(tracePath)

		return chunks, nil, err
	}

	return e.sizePartition(tracePath)
}

func (e *Engine[S]) timePartition(tracePath string) ([]partition.Chunk, error) {
	src, err := e.opener()(tracePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return partition.TimeBalanced(tracePath, src.BeginNS(), src.EndNS(), e.threads()), nil
}

func (e *Engine[S]) sizePartition(tracePath string) ([]partition.Chunk, func(), error) {
	clock, err := e.traceClock(tracePath)
	if err != nil {
		return nil, nil, err
	}

	wt, err := splitter.Split(tracePath)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		removeErr := wt.Remove()
		if removeErr != nil {
			e.logger().Warn("working tree removal failed", "error", removeErr)
		}
	}

	streams := make([]partition.Stream, 0, len(wt.Streams))

	for _, sd := range wt.Streams {
		idx, decodeErr := ctf.DecodeIndexFile(sd.IndexPath, clock)
		if decodeErr != nil {
			return nil, cleanup, decodeErr
		}

		e.logger().Debug("stream packet index loaded",
			"stream", idx.StreamID, "packets", len(idx.Headers))

		streams = append(streams, partition.Stream{Dir: sd.Dir, Headers: idx.Headers})
	}

	return partition.SizeBalanced(streams), cleanup, nil
}

func (e *Engine[S]) traceClock(tracePath string) (ctf.ClockInfo, error) {
	src, err := e.opener()(tracePath)
	if err != nil {
		return ctf.ClockInfo{}, err
	}
	defer src.Close()

	return src.Clock(), nil
}

// mapResult carries one chunk's partial state back to the collector.
type mapResult[S any] struct {
	index int
	state S
	err   error
}

// startWorkers launches the map worker pool over chunks and returns the
// result channel, closed once every chunk has been mapped.
func (e *Engine[S]) startWorkers(ctx context.Context, chunks []partition.Chunk) <-chan mapResult[S] {
	workers := min(e.threads(), len(chunks))

	jobs := make(chan int)
	results := make(chan mapResult[S])

	var wg sync.WaitGroup

	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()

			for idx := range jobs {
				state, err := e.mapChunk(ctx, idx, chunks[idx])
				results <- mapResult[S]{index: idx, state: state, err: err}
			}
		}()
	}

	go func() {
		for idx := range chunks {
			jobs <- idx
		}

		close(jobs)
		wg.Wait()
		close(results)
	}()

	return results
}

// mapChunks dispatches chunk maps to the worker pool and returns the partial
// states in chunk order. The first failing chunk (in chunk order) aborts the
// run.
func (e *Engine[S]) mapChunks(ctx context.Context, chunks []partition.Chunk) ([]S, error) {
	states := make([]S, len(chunks))
	errs := make([]error, len(chunks))

	for res := range e.startWorkers(ctx, chunks) {
		states[res.index] = res.state
		errs[res.index] = res.err
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return states, nil
}

// mapChunksUnordered folds partial states into acc as they arrive. Legal
// only for commutative reducers.
func (e *Engine[S]) mapChunksUnordered(ctx context.Context, chunks []partition.Chunk, acc *S) error {
	var firstErr error

	for res := range e.startWorkers(ctx, chunks) {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}

			continue
		}

		if firstErr == nil {
			e.Analyzer.Reduce(acc, res.state)
		}
	}

	return firstErr
}

// mapChunk opens the chunk's source and runs the analyzer's map over it.
// The begin bound is bumped by one nanosecond so the event at the boundary
// timestamp is consumed by the earlier chunk only.
func (e *Engine[S]) mapChunk(ctx context.Context, idx int, chunk partition.Chunk) (S, error) {
	var zero S

	_, span := e.tracer().Start(ctx, "analysis.chunk",
		oteltrace.WithAttributes(
			attribute.Int("chunk.index", idx),
			attribute.String("chunk.begin", boundaryString(chunk.Begin)),
			attribute.String("chunk.end", boundaryString(chunk.End)),
		))
	defer span.End()

	src, err := e.opener()(chunk.Dir)
	if err != nil {
		return zero, err
	}
	defer src.Close()

	begin := chunk.Begin
	if begin != nil {
		b := *begin + 1
		begin = &b
	}

	return e.Analyzer.Map(ctx, src, begin, chunk.End)
}

func (e *Engine[S]) reportBenchmark(started time.Time) {
	if !e.Opts.Benchmark {
		return
	}

	out := e.BenchmarkOut
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintf(out, "Analysis time (ms) : %d\n", time.Since(started).Milliseconds())
}

// boundaryString renders an optional boundary for span attributes.
func boundaryString(ts *uint64) string {
	if ts == nil {
		return "open"
	}

	return fmt.Sprintf("%d", *ts)
}
