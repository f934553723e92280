package trace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

func makeTraceDir(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "kernel")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata"), []byte("meta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "channel0_0"), []byte("data"), 0o644))

	return dir
}

func TestValidateDir(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, trace.ValidateDir(makeTraceDir(t)))
	})

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()

		err := trace.ValidateDir(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, trace.ErrBadInput)
	})

	t.Run("not a directory", func(t *testing.T) {
		t.Parallel()

		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		assert.ErrorIs(t, trace.ValidateDir(file), trace.ErrBadInput)
	})

	t.Run("empty directory", func(t *testing.T) {
		t.Parallel()

		assert.ErrorIs(t, trace.ValidateDir(t.TempDir()), trace.ErrBadInput)
	})

	t.Run("missing metadata", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "channel0_0"), []byte("x"), 0o644))

		assert.ErrorIs(t, trace.ValidateDir(dir), trace.ErrBadInput)
	})
}

func TestOpen_Decoder(t *testing.T) {
	// Mutates the process-wide decoder registration; not parallel.
	dir := makeTraceDir(t)

	trace.RegisterDecoder(nil)

	_, err := trace.Open(dir)
	require.ErrorIs(t, err, trace.ErrNoDecoder)

	want := trace.NewStaticSource(0, 100, nil)

	trace.RegisterDecoder(func(string) (trace.Source, error) { return want, nil })

	t.Cleanup(func() { trace.RegisterDecoder(nil) })

	src, err := trace.Open(dir)
	require.NoError(t, err)
	assert.Same(t, want, src)

	_, err = trace.Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, trace.ErrBadInput)
}

func TestLookupID_KindRestriction(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 100, []*trace.StaticEvent{
		{EventName: "sched_switch", TS: 10},
	})

	id, ok := trace.LookupID(src, "sched_switch")
	require.True(t, ok)
	assert.NotZero(t, id)

	_, ok = trace.LookupID(src, "no_such_event")
	assert.False(t, ok)

	src.TraceKind = "lttng-ust"

	_, ok = trace.LookupID(src, "sched_switch")
	assert.False(t, ok)
}
