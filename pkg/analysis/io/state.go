// Package io implements the per-thread syscall I/O analysis: bytes moved
// and latency for read/write system calls, paired entry to exit.
package io

import "sort"

// Kind is the direction of an I/O syscall.
type Kind int

// Syscall directions. ReadWrite syscalls (splice, sendfile) contribute to
// both sides.
const (
	Read Kind = iota
	Write
	ReadWrite
)

// Syscall is an entry seen in this chunk whose exit has not been seen yet.
type Syscall struct {
	Kind  Kind
	Start uint64
	Name  string
	FD    int64
}

// ExitRecord is an exit seen in this chunk with no preceding entry; it pairs
// with an entry from the previous chunk during reduce.
type ExitRecord struct {
	End uint64
	Ret int64
}

// Process accumulates one thread's I/O counters.
type Process struct {
	TID  int64
	Comm string

	ReadBytes  uint64
	WriteBytes uint64
	ReadCount  uint64
	WriteCount uint64

	ReadLatencyNS  uint64
	WriteLatencyNS uint64

	Current *Syscall
	Unknown *ExitRecord
}

// State is the analysis state for one chunk, and the fold accumulator.
type State struct {
	Procs map[int64]*Process

	// ByRead and ByWrite are populated by Finalize, ordered by bytes
	// descending.
	ByRead  []Process
	ByWrite []Process
}

// NewState returns an empty state.
func NewState() State {
	return State{Procs: make(map[int64]*Process)}
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
		Procs:   make(map[int64]*Process, len(s.Procs)),
		ByRead:  append([]Process(nil), s.ByRead...),
		ByWrite: append([]Process(nil), s.ByWrite...),
	}

	for tid, p := range s.Procs {
		cp := *p

		if p.Current != nil {
			cur := *p.Current
			cp.Current = &cur
		}

		if p.Unknown != nil {
			unk := *p.Unknown
			cp.Unknown = &unk
		}

		out.Procs[tid] = &cp
	}

	return out
}

// buildSorted orders thread snapshots by read bytes and by write bytes,
// descending, tid ascending on ties.
func (s *State) buildSorted() {
	s.ByRead = s.ByRead[:0]
	s.ByWrite = s.ByWrite[:0]

	for _, p := range s.Procs {
		s.ByRead = append(s.ByRead, *p)
		s.ByWrite = append(s.ByWrite, *p)
	}

	sort.SliceStable(s.ByRead, func(i, j int) bool {
		if s.ByRead[i].ReadBytes != s.ByRead[j].ReadBytes {
			return s.ByRead[i].ReadBytes > s.ByRead[j].ReadBytes
		}

		return s.ByRead[i].TID < s.ByRead[j].TID
	})

	sort.SliceStable(s.ByWrite, func(i, j int) bool {
		if s.ByWrite[i].WriteBytes != s.ByWrite[j].WriteBytes {
			return s.ByWrite[i].WriteBytes > s.ByWrite[j].WriteBytes
		}

		return s.ByWrite[i].TID < s.ByWrite[j].TID
	})
}
