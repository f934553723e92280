package cpu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// schedSwitch is the kernel tracepoint fired at every context switch.
const schedSwitch = "sched_switch"

// idleTID is the swapper thread; it never accumulates time and is never an
// unknown finishing task.
const idleTID = 0

// Analyzer computes per-CPU and per-thread on-CPU time from sched_switch
// events. Reduction is ordered: chunks must be folded in ascending chunk
// order so that a task running across a boundary pairs with its finishing
// half in the next chunk.
type Analyzer struct {
	Logger *slog.Logger

	// CreditLeadingUnknown credits the runtime of a task observed only
	// finishing — with no running task on the left — from the merged
	// state's start. Off by default, which matches lttng-analyses.
	CreditLeadingUnknown bool
}

// Name returns the analysis name.
func (a *Analyzer) Name() string { return "cpu" }

// OrderedReduce reports that chunk order is significant.
func (a *Analyzer) OrderedReduce() bool { return true }

// Map consumes sched_switch events between begin and end into a fresh state.
// A trace without sched_switch yields an empty result with a diagnostic.
func (a *Analyzer) Map(ctx context.Context, src trace.Source, begin, end *uint64) (State, error) {
	st := NewState()

	st.Start = src.BeginNS()
	if begin != nil {
		st.Start = *begin
	}

	st.End = src.EndNS()
	if end != nil {
		st.End = *end
	}

	switchID, ok := trace.LookupID(src, schedSwitch)
	if !ok {
		a.logger().Warn("the trace is missing sched_switch events")

		return st, nil
	}

	var count, switches uint64

	for ev, err := range src.Events(begin, end) {
		if err != nil {
			return State{}, fmt.Errorf("cpu analysis: %w", err)
		}

		count++

		if ev.ID() == switchID {
			switches++

			a.handleSchedSwitch(&st, ev)
		}
	}

	a.logger().Debug("chunk processed",
		"events", count, "sched_switch", switches,
		"begin", boundaryString(begin), "end", boundaryString(end))

	return st, nil
}

// handleSchedSwitch accounts the outgoing task's time slice and installs the
// incoming task as the CPU's current one.
func (a *Analyzer) handleSchedSwitch(st *State, ev trace.Event) {
	ts := ev.Timestamp()

	cpuID, ok := ev.UintContext("cpu_id")
	if !ok {
		a.logger().Warn("sched_switch missing cpu_id context", "timestamp", ts)

		return
	}

	prevTID, _ := ev.IntField("prev_tid")
	nextTID, _ := ev.IntField("next_tid")
	prevComm, _ := ev.StringField("prev_comm")

	c := st.cpu(uint32(cpuID))

	switch {
	case c.Current != nil:
		slice := ts - c.Current.Start
		c.BusyNS += slice
		st.proc(c.Current.TID).CPUNS += slice
	case prevTID != idleTID && c.Unknown == nil:
		// The finishing task started before this chunk.
		c.Unknown = &Task{End: ts, TID: prevTID}
	}

	st.proc(prevTID).Comm = prevComm

	if nextTID != idleTID {
		c.Current = &Task{Start: ts, TID: nextTID}
	} else {
		c.Current = nil
	}
}

// Reduce folds the chunk to the right of acc into acc. Boundary
// reconciliation pairs acc's still-running task per CPU with next's
// finishing unknown task.
func (a *Analyzer) Reduce(acc *State, next State) {
	// A zero End marks an accumulator nothing has been folded into yet; a
	// Start of 0 is otherwise a real trace start.
	if acc.End == 0 || next.Start < acc.Start {
		acc.Start = next.Start
	}

	if next.End > acc.End {
		acc.End = next.End
	}

	for _, rc := range next.CPUs {
		acc.cpu(rc.ID).BusyNS += rc.BusyNS
	}

	for tid, rp := range next.Procs {
		lp := acc.proc(tid)
		lp.CPUNS += rp.CPUNS
		lp.Comm = rp.Comm
	}

	acc.Mismatches = append(acc.Mismatches, next.Mismatches...)

	for _, rc := range next.CPUs {
		a.reconcile(acc, rc)
	}
}

// reconcile composes the boundary state machines of the accumulator and one
// CPU of the chunk to its right.
func (a *Analyzer) reconcile(acc *State, rc *CPU) {
	c := acc.cpu(rc.ID)

	if c.Current != nil {
		if rc.Unknown != nil {
			span := rc.Unknown.End - c.Current.Start
			c.BusyNS += span

			if c.Current.TID == rc.Unknown.TID {
				acc.proc(c.Current.TID).CPUNS += span
			} else {
				acc.Mismatches = append(acc.Mismatches, Mismatch{
					CPU:        c.ID,
					CurrentTID: c.Current.TID,
					UnknownTID: rc.Unknown.TID,
				})
				a.logger().Warn("boundary mismatch",
					"cpu", c.ID, "current_tid", c.Current.TID, "unknown_tid", rc.Unknown.TID)
			}

			c.Current = cloneTask(rc.Current)

			return
		}

		// The task crosses more than one chunk, or ends after the last
		// one; keep it.
		return
	}

	if rc.Unknown != nil && a.CreditLeadingUnknown {
		span := rc.Unknown.End - acc.Start
		c.BusyNS += span
		acc.proc(rc.Unknown.TID).CPUNS += span
	}

	c.Current = cloneTask(rc.Current)
}

// Finalize credits tasks still running at the end of the trace, then orders
// CPUs and threads by accumulated time.
func (a *Analyzer) Finalize(acc *State) {
	for _, c := range acc.CPUs {
		if c.Current == nil {
			continue
		}

		span := acc.End - c.Current.Start
		c.BusyNS += span
		acc.proc(c.Current.TID).CPUNS += span
		c.Current = nil
	}

	acc.sortCPUs()
	acc.buildSortedProcs()
}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slog.Default()
}

func boundaryString(ts *uint64) string {
	if ts == nil {
		return "open"
	}

	return fmt.Sprintf("%d", *ts)
}
