package analysis_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis/count"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/ctf"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

func staticEvents(timestamps ...uint64) []*trace.StaticEvent {
	events := make([]*trace.StaticEvent, len(timestamps))
	for i, ts := range timestamps {
		events[i] = &trace.StaticEvent{EventName: "ev", TS: ts}
	}

	return events
}

// fixedOpener returns the same source for every chunk. StaticSource holds no
// cursor state, so sharing it between workers is safe.
func fixedOpener(src trace.Source) trace.OpenFunc {
	return func(string) (trace.Source, error) { return src, nil }
}

func countEngine(src trace.Source, opts analysis.Options) *analysis.Engine[uint64] {
	return &analysis.Engine[uint64]{
		Analyzer: &count.Analyzer{},
		Opts:     opts,
		Opener:   fixedOpener(src),
	}
}

func TestEngine_CountTimeBalanced(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(1000, 1999, staticEvents(1000, 1050, 1100, 1200, 1999))

	eng := countEngine(src, analysis.Options{Threads: 4, Parallel: true})

	total, err := eng.Run(context.Background(), "trace")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), total)
}

func TestEngine_CountSerial(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(1000, 1999, staticEvents(1000, 1050, 1100, 1200, 1999))

	eng := countEngine(src, analysis.Options{Parallel: false})

	total, err := eng.Run(context.Background(), "trace")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), total)
}

func TestEngine_CountInvariance(t *testing.T) {
	t.Parallel()

	timestamps := make([]uint64, 0, 200)
	for ts := uint64(1000); ts < 9000; ts += 40 {
		timestamps = append(timestamps, ts)
	}

	src := trace.NewStaticSource(1000, 9000, staticEvents(timestamps...))
	want := uint64(len(timestamps))

	for workers := 1; workers <= 16; workers++ {
		eng := countEngine(src, analysis.Options{Threads: workers, Parallel: true})

		total, err := eng.Run(context.Background(), "trace")
		require.NoError(t, err)
		assert.Equal(t, want, total, "workers=%d", workers)
	}
}

func TestEngine_BoundaryEventCountedOnce(t *testing.T) {
	t.Parallel()

	// With extent [0, 1000] and two workers the cut lands exactly on 500;
	// the event at the boundary belongs to the left chunk only.
	src := trace.NewStaticSource(0, 1000, staticEvents(100, 500, 900))

	eng := countEngine(src, analysis.Options{Threads: 2, Parallel: true})

	total, err := eng.Run(context.Background(), "trace")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
}

func TestEngine_EmptyExtent(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(500, 500, nil)

	eng := countEngine(src, analysis.Options{Threads: 4, Parallel: true})

	total, err := eng.Run(context.Background(), "trace")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestEngine_Benchmark(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 1000, staticEvents(100, 200))

	var out bytes.Buffer

	eng := countEngine(src, analysis.Options{Threads: 2, Parallel: true, Benchmark: true})
	eng.BenchmarkOut = &out

	_, err := eng.Run(context.Background(), "trace")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Analysis time (ms)")
}

// writeIndex builds a packet-index file covering the given time ranges.
func writeIndex(t *testing.T, path string, streamID uint64, ranges [][2]uint64) {
	t.Helper()

	idx := &ctf.Index{StreamID: streamID, RecordLen: 56}

	var offset uint64

	for _, r := range ranges {
		idx.Headers = append(idx.Headers, ctf.PacketHeader{
			Offset:      offset,
			PacketSize:  4096 * 8,
			ContentSize: 4000 * 8,
			// Identity clock: cycles and real time coincide.
			TSCyclesBegin: r[0], TSCyclesEnd: r[1],
			TSRealBegin: r[0], TSRealEnd: r[1],
			StreamID: streamID,
		})
		offset += 4096
	}

	var buf bytes.Buffer

	require.NoError(t, ctf.EncodeIndex(&buf, idx))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	// Sanity: the encoded header carries the expected magic.
	require.Equal(t, uint32(0xC1F1DCC1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
}

func TestEngine_CountSizeBalanced(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "kernel")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "index"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata"), []byte("meta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream_a"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stream_b"), []byte("b"), 0o644))

	writeIndex(t, filepath.Join(dir, "index", "stream_a.idx"), 0,
		[][2]uint64{{0, 400}, {400, 800}})
	writeIndex(t, filepath.Join(dir, "index", "stream_b.idx"), 1,
		[][2]uint64{{100, 500}, {500, 900}})

	srcA := trace.NewStaticSource(0, 800, staticEvents(50, 400, 600))
	srcB := trace.NewStaticSource(100, 900, staticEvents(150, 500, 850))
	root := trace.NewStaticSource(0, 900, nil)

	opener := func(path string) (trace.Source, error) {
		switch {
		case strings.HasSuffix(path, "stream_a.d"):
			return srcA, nil
		case strings.HasSuffix(path, "stream_b.d"):
			return srcB, nil
		default:
			return root, nil
		}
	}

	eng := &analysis.Engine[uint64]{
		Analyzer: &count.Analyzer{},
		Opts:     analysis.Options{Threads: 4, Parallel: true, Balanced: true},
		Opener:   opener,
	}

	total, err := eng.Run(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), total)
}
