package cpu_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis/cpu"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

func u64(v uint64) *uint64 { return &v }

// schedSwitch builds one sched_switch event.
func schedSwitch(cpuID uint64, prevTID, nextTID int64, prevComm string, ts uint64) *trace.StaticEvent {
	return &trace.StaticEvent{
		EventName: "sched_switch",
		TS:        ts,
		Fields: map[string]any{
			"prev_tid":  prevTID,
			"next_tid":  nextTID,
			"prev_comm": prevComm,
		},
		Context: map[string]any{"cpu_id": cpuID},
	}
}

func findCPU(t *testing.T, st *cpu.State, id uint32) *cpu.CPU {
	t.Helper()

	for _, c := range st.CPUs {
		if c.ID == id {
			return c
		}
	}

	t.Fatalf("no CPU %d in state", id)

	return nil
}

func TestMap_SingleTask(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		schedSwitch(0, 0, 42, "swapper", 100),
		schedSwitch(0, 42, 0, "worker", 500),
	})

	an := &cpu.Analyzer{}

	st, err := an.Map(context.Background(), src, nil, nil)
	require.NoError(t, err)

	an.Finalize(&st)

	c := findCPU(t, &st, 0)
	assert.Equal(t, uint64(400), c.BusyNS)
	require.Contains(t, st.Procs, int64(42))
	assert.Equal(t, uint64(400), st.Procs[42].CPUNS)
	assert.Equal(t, "worker", st.Procs[42].Comm)
	assert.Empty(t, st.Mismatches)
}

func TestMap_TaskRunningAtTraceEnd(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		schedSwitch(0, 0, 7, "swapper", 600),
	})

	an := &cpu.Analyzer{}

	st, err := an.Map(context.Background(), src, nil, nil)
	require.NoError(t, err)

	an.Finalize(&st)

	// The task runs to the end of the trace.
	assert.Equal(t, uint64(400), findCPU(t, &st, 0).BusyNS)
	assert.Equal(t, uint64(400), st.Procs[7].CPUNS)
}

func TestMap_MissingSchedSwitch(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		{EventName: "other_event", TS: 100},
	})

	an := &cpu.Analyzer{}

	st, err := an.Map(context.Background(), src, nil, nil)
	require.NoError(t, err)

	an.Finalize(&st)
	assert.Empty(t, st.CPUs)
	assert.Empty(t, st.Procs)
}

func TestReduce_BoundarySplit(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		schedSwitch(0, 0, 7, "swapper", 100),
		schedSwitch(0, 7, 0, "worker", 900),
	})

	an := &cpu.Analyzer{}

	stA, err := an.Map(context.Background(), src, nil, u64(500))
	require.NoError(t, err)

	stB, err := an.Map(context.Background(), src, u64(501), nil)
	require.NoError(t, err)

	require.NotNil(t, findCPU(t, &stA, 0).Current)
	require.NotNil(t, findCPU(t, &stB, 0).Unknown)

	var acc cpu.State

	an.Reduce(&acc, stA)
	an.Reduce(&acc, stB)
	an.Finalize(&acc)

	assert.Equal(t, uint64(800), findCPU(t, &acc, 0).BusyNS)
	assert.Equal(t, uint64(800), acc.Procs[7].CPUNS)
	assert.Empty(t, acc.Mismatches)
}

func TestReduce_Mismatch(t *testing.T) {
	t.Parallel()

	srcA := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		schedSwitch(0, 0, 7, "swapper", 100),
	})
	srcB := trace.NewStaticSource(0, 1000, []*trace.StaticEvent{
		schedSwitch(0, 8, 0, "ghost", 900),
	})

	an := &cpu.Analyzer{}

	stA, err := an.Map(context.Background(), srcA, nil, u64(500))
	require.NoError(t, err)

	stB, err := an.Map(context.Background(), srcB, u64(501), nil)
	require.NoError(t, err)

	var acc cpu.State

	an.Reduce(&acc, stA)
	an.Reduce(&acc, stB)

	// CPU time is still credited; the thread attribution is flagged.
	assert.Equal(t, uint64(800), findCPU(t, &acc, 0).BusyNS)
	require.Len(t, acc.Mismatches, 1)
	assert.Equal(t, int64(7), acc.Mismatches[0].CurrentTID)
	assert.Equal(t, int64(8), acc.Mismatches[0].UnknownTID)
}

func TestReduce_TaskAcrossManyChunks(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(0, 2000, []*trace.StaticEvent{
		schedSwitch(0, 0, 7, "swapper", 100),
		schedSwitch(0, 7, 0, "worker", 1900),
	})

	an := &cpu.Analyzer{}

	// The middle chunk sees no events at all; the running task must
	// survive it.
	stA, err := an.Map(context.Background(), src, nil, u64(600))
	require.NoError(t, err)

	stB, err := an.Map(context.Background(), src, u64(601), u64(1200))
	require.NoError(t, err)

	stC, err := an.Map(context.Background(), src, u64(1201), nil)
	require.NoError(t, err)

	var acc cpu.State

	an.Reduce(&acc, stA)
	an.Reduce(&acc, stB)
	an.Reduce(&acc, stC)
	an.Finalize(&acc)

	assert.Equal(t, uint64(1800), findCPU(t, &acc, 0).BusyNS)
	assert.Equal(t, uint64(1800), acc.Procs[7].CPUNS)
}

func TestReduce_LeadingUnknown(t *testing.T) {
	t.Parallel()

	src := trace.NewStaticSource(100, 1000, []*trace.StaticEvent{
		schedSwitch(0, 9, 0, "early", 300),
	})

	t.Run("ignored by default", func(t *testing.T) {
		t.Parallel()

		an := &cpu.Analyzer{}

		st, err := an.Map(context.Background(), src, nil, nil)
		require.NoError(t, err)

		var acc cpu.State

		an.Reduce(&acc, st)
		an.Finalize(&acc)

		assert.Zero(t, findCPU(t, &acc, 0).BusyNS)
		assert.Zero(t, acc.Procs[9].CPUNS)
	})

	t.Run("credited when enabled", func(t *testing.T) {
		t.Parallel()

		an := &cpu.Analyzer{CreditLeadingUnknown: true}

		st, err := an.Map(context.Background(), src, nil, nil)
		require.NoError(t, err)

		var acc cpu.State

		an.Reduce(&acc, st)
		an.Finalize(&acc)

		// Credited from the chunk's start to the switch.
		assert.Equal(t, uint64(200), findCPU(t, &acc, 0).BusyNS)
		assert.Equal(t, uint64(200), acc.Procs[9].CPUNS)
	})
}

// busyTrace is a two-CPU trace with several threads trading places.
func busyTrace() *trace.StaticSource {
	return trace.NewStaticSource(0, 10000, []*trace.StaticEvent{
		schedSwitch(0, 0, 10, "swapper", 500),
		schedSwitch(1, 0, 20, "swapper", 700),
		schedSwitch(0, 10, 11, "alpha", 2500),
		schedSwitch(1, 20, 0, "beta", 3600),
		schedSwitch(0, 11, 10, "gamma", 4200),
		schedSwitch(1, 0, 21, "swapper", 5100),
		schedSwitch(0, 10, 0, "alpha", 7700),
		schedSwitch(1, 21, 20, "delta", 8000),
		schedSwitch(1, 20, 0, "beta", 9500),
	})
}

func sums(st *cpu.State) (busy, threadNS uint64) {
	for _, c := range st.CPUs {
		busy += c.BusyNS
	}

	for tid, p := range st.Procs {
		if tid != 0 {
			threadNS += p.CPUNS
		}
	}

	return busy, threadNS
}

func TestFinalize_TimeConservation(t *testing.T) {
	t.Parallel()

	an := &cpu.Analyzer{}

	st, err := an.Map(context.Background(), busyTrace(), nil, nil)
	require.NoError(t, err)

	an.Finalize(&st)

	busy, threadNS := sums(&st)
	assert.Equal(t, busy, threadNS)

	for _, c := range st.CPUs {
		assert.LessOrEqual(t, c.BusyNS, st.End-st.Start)
	}
}

func mapRange(t *testing.T, an *cpu.Analyzer, src trace.Source, begin, end *uint64) cpu.State {
	t.Helper()

	st, err := an.Map(context.Background(), src, begin, end)
	require.NoError(t, err)

	return st
}

func finalized(an *cpu.Analyzer, st cpu.State) cpu.State {
	an.Finalize(&st)

	return st
}

func assertStatesEqual(t *testing.T, want, got cpu.State) {
	t.Helper()

	assert.Equal(t, want.Start, got.Start)
	assert.Equal(t, want.End, got.End)
	require.Len(t, got.CPUs, len(want.CPUs))

	for i := range want.CPUs {
		assert.Equal(t, want.CPUs[i].ID, got.CPUs[i].ID)
		assert.Equal(t, want.CPUs[i].BusyNS, got.CPUs[i].BusyNS)
	}

	assert.Equal(t, want.SortedProcs, got.SortedProcs)
}

func TestReduce_Associativity(t *testing.T) {
	t.Parallel()

	src := busyTrace()
	an := &cpu.Analyzer{}

	a := mapRange(t, an, src, nil, u64(3000))
	b := mapRange(t, an, src, u64(3001), u64(6000))
	c := mapRange(t, an, src, u64(6001), nil)

	// (a+b)+c
	left := a.Clone()
	an.Reduce(&left, b.Clone())
	an.Reduce(&left, c.Clone())

	// a+(b+c)
	bc := b.Clone()
	an.Reduce(&bc, c.Clone())

	right := a.Clone()
	an.Reduce(&right, bc)

	assertStatesEqual(t, finalized(an, left), finalized(an, right))
}

func TestEngine_ParallelMatchesSerial(t *testing.T) {
	t.Parallel()

	src := busyTrace()

	for _, workers := range []int{1, 2, 3, 4, 8} {
		serialEng := &analysis.Engine[cpu.State]{
			Analyzer: &cpu.Analyzer{},
			Opts:     analysis.Options{Parallel: false},
			Opener:   func(string) (trace.Source, error) { return src, nil },
		}

		serial, err := serialEng.Run(context.Background(), "trace")
		require.NoError(t, err)

		parallelEng := &analysis.Engine[cpu.State]{
			Analyzer: &cpu.Analyzer{},
			Opts:     analysis.Options{Parallel: true, Threads: workers},
			Opener:   func(string) (trace.Source, error) { return src, nil },
		}

		parallel, err := parallelEng.Run(context.Background(), "trace")
		require.NoError(t, err)

		assertStatesEqual(t, serial, parallel)
	}
}

func TestBuildReport(t *testing.T) {
	t.Parallel()

	an := &cpu.Analyzer{}

	st := mapRange(t, an, busyTrace(), nil, nil)
	an.Finalize(&st)

	rep := cpu.BuildReport(&st)
	require.NotEmpty(t, rep.CPUs)
	require.NotEmpty(t, rep.Threads)

	// CPUs are ordered by busy time descending.
	for i := 1; i < len(rep.CPUs); i++ {
		assert.GreaterOrEqual(t, rep.CPUs[i-1].BusyNS, rep.CPUs[i].BusyNS)
	}

	for i := 1; i < len(rep.Threads); i++ {
		assert.GreaterOrEqual(t, rep.Threads[i-1].CPUNS, rep.Threads[i].CPUNS)
	}
}
