// Package partition derives chunk boundaries over a trace, either by equal
// time division or by equal content-size division using per-stream packet
// indices.
package partition

import (
	"sort"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/ctf"
)

// Chunk is a time range over one trace directory. A nil Begin means "from
// the start of the trace"; a nil End means "to the end". Begin is used
// exclusive by the worker (it bumps it by one nanosecond) and End is used
// closed, so the event sitting exactly on a boundary timestamp belongs to
// the earlier chunk.
type Chunk struct {
	Begin *uint64
	End   *uint64

	// Dir is the trace directory a worker opens for this chunk: the
	// original trace in time-balanced mode, a single-stream view in
	// size-balanced mode.
	Dir string
}

// Stream is one stream's packet headers together with the single-stream
// trace directory that exposes it.
type Stream struct {
	Dir     string
	Headers []ctf.PacketHeader
}

// TimeBalanced divides the trace's global time extent [begin, end] into
// workers chunks of equal duration, all over the same trace directory. A
// zero-length extent yields no chunks.
func TimeBalanced(dir string, begin, end uint64, workers int) []Chunk {
	if end == begin || workers < 1 {
		return nil
	}

	if workers == 1 {
		return []Chunk{{Dir: dir}}
	}

	step := (end - begin) / uint64(workers)
	positions := make([]uint64, workers)

	for i := range workers {
		positions[i] = begin + uint64(i)*step
	}

	chunks := make([]Chunk, workers)

	for i := range workers {
		chunks[i].Dir = dir

		if i > 0 {
			chunks[i].Begin = &positions[i]
		}

		if i < workers-1 {
			chunks[i].End = &positions[i+1]
		}
	}

	return chunks
}

// SizeBalanced cuts every stream into chunks of roughly equal content size
// using its packet headers, then combines all per-stream chunks into one
// list ordered by begin timestamp (open begins first).
//
// The cut target is the mean packet content size; walking packets in order,
// a cut is emitted at a packet's real end timestamp whenever the running
// content sum reaches the target. The final packet is always left to the
// tail chunk.
func SizeBalanced(streams []Stream) []Chunk {
	var chunks []Chunk

	for _, s := range streams {
		chunks = append(chunks, splitStream(s)...)
	}

	sortChunks(chunks)

	return chunks
}

// splitStream derives the chunk list for a single stream.
func splitStream(s Stream) []Chunk {
	if len(s.Headers) == 0 {
		return nil
	}

	if len(s.Headers) == 1 {
		return []Chunk{{Dir: s.Dir}}
	}

	var total uint64
	for _, h := range s.Headers {
		total += h.ContentSize
	}

	target := total / uint64(len(s.Headers))

	var (
		cuts []uint64
		acc  uint64
	)

	// The last packet never carries a cut; the tail chunk absorbs it.
	for _, h := range s.Headers[:len(s.Headers)-1] {
		acc += h.ContentSize
		if acc >= target {
			cuts = append(cuts, h.TSRealEnd)
			acc = 0
		}
	}

	chunks := make([]Chunk, len(cuts)+1)

	for i := range chunks {
		chunks[i].Dir = s.Dir

		if i > 0 {
			chunks[i].Begin = &cuts[i-1]
		}

		if i < len(cuts) {
			chunks[i].End = &cuts[i]
		}
	}

	return chunks
}

// sortChunks stable-sorts chunks by begin timestamp, open begins first.
func sortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[j].Begin == nil {
			return false
		}

		if chunks[i].Begin == nil {
			return true
		}

		return *chunks[i].Begin < *chunks[j].Begin
	})
}
