// Package analysis provides the analyzer contract and the map/reduce
// execution engine that runs analyzers over trace chunks.
package analysis

import (
	"context"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// Analyzer is the contract every analysis implements. S is the per-chunk
// state type; its zero value is the initial accumulator.
//
// Map consumes events from src between begin and end (both inclusive; nil
// means open) and returns a partial result. Reduce folds next into acc and
// must be associative; when OrderedReduce reports false it must be
// commutative as well, and the engine is free to fold in any order.
// Finalize adjusts the accumulator after the last fold (sorting, resolving
// tasks still running at the end of the trace).
type Analyzer[S any] interface {
	Name() string
	Map(ctx context.Context, src trace.Source, begin, end *uint64) (S, error)
	Reduce(acc *S, next S)
	Finalize(acc *S)
	OrderedReduce() bool
}
