// Package cpu implements the per-CPU and per-thread scheduling-time
// analysis over sched_switch events.
package cpu

import "sort"

// Task is one side of a context switch: either a task known to be running
// (Start set) or a task seen finishing whose start lies outside the chunk
// (End set).
type Task struct {
	Start uint64
	End   uint64
	TID   int64
}

// CPU accumulates on-CPU time for one core. Current holds the running task
// still unfinished in this chunk; Unknown holds the finishing half of a task
// whose start was not observed in this chunk.
type CPU struct {
	ID      uint32
	BusyNS  uint64
	Current *Task
	Unknown *Task
}

// Process aggregates one thread's on-CPU time across cores.
type Process struct {
	TID   int64
	Comm  string
	CPUNS uint64
}

// Mismatch is a boundary reconciliation diagnostic: the running task on one
// side of a chunk boundary did not match the finishing task on the other.
type Mismatch struct {
	CPU        uint32
	CurrentTID int64
	UnknownTID int64
}

// State is the analysis state for one chunk, and the fold accumulator.
type State struct {
	Start uint64
	End   uint64

	CPUs  []*CPU
	Procs map[int64]*Process

	// SortedProcs is populated by Finalize, ordered by CPUNS descending.
	SortedProcs []Process

	Mismatches []Mismatch
}

// NewState returns an empty state.
func NewState() State {
	return State{Procs: make(map[int64]*Process)}
}

// cpu returns the per-CPU state for id, creating it with zeroed counters on
// first sight.
func (s *State) cpu(id uint32) *CPU {
	for _, c := range s.CPUs {
		if c.ID == id {
			return c
		}
	}

	c := &CPU{ID: id}
	s.CPUs = append(s.CPUs, c)

	return c
}

// proc returns the per-thread state for tid, creating it on first sight.
func (s *State) proc(tid int64) *Process {
	if s.Procs == nil {
		s.Procs = make(map[int64]*Process)
	}

	p, ok := s.Procs[tid]
	if !ok {
		p = &Process{TID: tid}
		s.Procs[tid] = p
	}

	return p
}

// Clone deep-copies the state. Reducing consumes its right operand, so
// callers that need to reuse a state reduce a clone instead.
func (s *State) Clone() State {
	out := State{
		Start:       s.Start,
		End:         s.End,
		Procs:       make(map[int64]*Process, len(s.Procs)),
		SortedProcs: append([]Process(nil), s.SortedProcs...),
		Mismatches:  append([]Mismatch(nil), s.Mismatches...),
	}

	for _, c := range s.CPUs {
		cc := &CPU{ID: c.ID, BusyNS: c.BusyNS}
		cc.Current = cloneTask(c.Current)
		cc.Unknown = cloneTask(c.Unknown)
		out.CPUs = append(out.CPUs, cc)
	}

	for tid, p := range s.Procs {
		cp := *p
		out.Procs[tid] = &cp
	}

	return out
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}

	ct := *t

	return &ct
}

// sortCPUs orders CPUs by busy time descending, id ascending on ties.
func (s *State) sortCPUs() {
	sort.SliceStable(s.CPUs, func(i, j int) bool {
		if s.CPUs[i].BusyNS != s.CPUs[j].BusyNS {
			return s.CPUs[i].BusyNS > s.CPUs[j].BusyNS
		}

		return s.CPUs[i].ID < s.CPUs[j].ID
	})
}

// buildSortedProcs orders threads by on-CPU time descending, tid ascending
// on ties.
func (s *State) buildSortedProcs() {
	s.SortedProcs = s.SortedProcs[:0]

	for _, p := range s.Procs {
		s.SortedProcs = append(s.SortedProcs, *p)
	}

	sort.SliceStable(s.SortedProcs, func(i, j int) bool {
		if s.SortedProcs[i].CPUNS != s.SortedProcs[j].CPUNS {
			return s.SortedProcs[i].CPUNS > s.SortedProcs[j].CPUNS
		}

		return s.SortedProcs[i].TID < s.SortedProcs[j].TID
	})
}
