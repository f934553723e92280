package io

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// Event families consumed by the analysis. Families are resolved to numeric
// ids per source; a name the trace does not know is simply absent.
var (
	readEntryEvents = []string{
		"sys_read", "syscall_entry_read",
		"sys_recvmsg", "syscall_entry_recvmsg",
		"sys_recvfrom", "syscall_entry_recvfrom",
		"sys_readv", "syscall_entry_readv",
	}

	writeEntryEvents = []string{
		"sys_write", "syscall_entry_write",
		"sys_sendmsg", "syscall_entry_sendmsg",
		"sys_sendto", "syscall_entry_sendto",
		"sys_writev", "syscall_entry_writev",
	}

	readWriteEntryEvents = []string{
		"sys_splice", "syscall_entry_splice",
		"sys_sendfile64", "syscall_entry_sendfile64",
	}

	exitEvents = []string{
		"syscall_exit_read",
		"syscall_exit_recvmsg",
		"syscall_exit_recvfrom",
		"syscall_exit_readv",
		"syscall_exit_write",
		"syscall_exit_sendmsg",
		"syscall_exit_sendto",
		"syscall_exit_writev",
		"syscall_exit_splice",
		"syscall_exit_sendfile64",
		"exit_syscall",
	}
)

// Analyzer pairs read/write syscall entries with their exits and totals
// bytes and latency per thread. Reduction is ordered: an exit with no entry
// in its chunk pairs with the entry left running in the chunk before it.
type Analyzer struct {
	Logger *slog.Logger
}

// Name returns the analysis name.
func (a *Analyzer) Name() string { return "io" }

// OrderedReduce reports that chunk order is significant.
func (a *Analyzer) OrderedReduce() bool { return true }

// idSet resolves a family of event names against src.
func idSet(src trace.Source, names []string) map[trace.EventID]struct{} {
	ids := make(map[trace.EventID]struct{}, len(names))

	for _, name := range names {
		id, ok := trace.LookupID(src, name)
		if ok {
			ids[id] = struct{}{}
		}
	}

	return ids
}

// Map consumes syscall entry/exit events between begin and end into a fresh
// state.
func (a *Analyzer) Map(ctx context.Context, src trace.Source, begin, end *uint64) (State, error) {
	st := NewState()

	reads := idSet(src, readEntryEvents)
	writes := idSet(src, writeEntryEvents)
	readWrites := idSet(src, readWriteEntryEvents)
	exits := idSet(src, exitEvents)

	var count uint64

	for ev, err := range src.Events(begin, end) {
		if err != nil {
			return State{}, fmt.Errorf("io analysis: %w", err)
		}

		count++

		id := ev.ID()

		switch {
		case member(reads, id):
			a.handleEntry(&st, ev, Read)
		case member(writes, id):
			a.handleEntry(&st, ev, Write)
		case member(readWrites, id):
			a.handleEntry(&st, ev, ReadWrite)
		case member(exits, id):
			a.handleExit(&st, ev)
		}
	}

	a.logger().Debug("chunk processed",
		"events", count,
		"begin", boundaryString(begin), "end", boundaryString(end))

	return st, nil
}

func member(set map[trace.EventID]struct{}, id trace.EventID) bool {
	_, ok := set[id]

	return ok
}

// handleEntry records a syscall entry as the thread's current syscall,
// silently replacing any previous one: the kernel runs one syscall at a
// time per thread.
func (a *Analyzer) handleEntry(st *State, ev trace.Event, kind Kind) {
	tid, ok := ev.IntContext("tid")
	if !ok {
		a.logger().Warn("missing tid context info", "event", ev.Name())

		return
	}

	p := st.proc(tid)

	comm, ok := ev.StringContext("procname")
	if ok {
		p.Comm = comm
	}

	p.Current = &Syscall{Kind: kind, Start: ev.Timestamp(), Name: ev.Name()}

	if kind != ReadWrite {
		fd, hasFD := ev.IntField("fd")
		if hasFD {
			p.Current.FD = fd
		}
	}
}

// handleExit pairs an exit with the thread's current syscall, or records it
// as the unknown exit whose entry lies in the preceding chunk.
func (a *Analyzer) handleExit(st *State, ev trace.Event) {
	tid, ok := ev.IntContext("tid")
	if !ok {
		a.logger().Warn("missing tid context info", "event", ev.Name())

		return
	}

	ts := ev.Timestamp()
	ret, _ := ev.IntField("ret")

	p := st.proc(tid)

	comm, hasComm := ev.StringContext("procname")
	if hasComm {
		p.Comm = comm
	}

	if p.Current == nil {
		if p.Unknown == nil {
			p.Unknown = &ExitRecord{End: ts, Ret: ret}
		}

		return
	}

	if ret >= 0 {
		credit(p, p.Current.Kind, ts-p.Current.Start, uint64(ret))
	}

	p.Current = nil
}

// credit books one completed syscall on the thread's counters.
func credit(p *Process, kind Kind, latency, bytes uint64) {
	if kind == Read || kind == ReadWrite {
		p.ReadBytes += bytes
		p.ReadCount++
		p.ReadLatencyNS += latency
	}

	if kind == Write || kind == ReadWrite {
		p.WriteBytes += bytes
		p.WriteCount++
		p.WriteLatencyNS += latency
	}
}

// Reduce folds the chunk to the right of acc into acc, pairing syscalls
// split across the boundary.
func (a *Analyzer) Reduce(acc *State, next State) {
	for tid, rp := range next.Procs {
		lp, ok := acc.procs()[tid]
		if !ok {
			acc.Procs[tid] = rp

			continue
		}

		lp.ReadBytes += rp.ReadBytes
		lp.WriteBytes += rp.WriteBytes
		lp.ReadCount += rp.ReadCount
		lp.WriteCount += rp.WriteCount
		lp.ReadLatencyNS += rp.ReadLatencyNS
		lp.WriteLatencyNS += rp.WriteLatencyNS

		if lp.Current != nil && rp.Unknown != nil && rp.Unknown.Ret >= 0 {
			credit(lp, lp.Current.Kind,
				rp.Unknown.End-lp.Current.Start, uint64(rp.Unknown.Ret))
		}

		lp.Current = rp.Current
	}
}

// procs returns the thread map, initializing it for a zero-valued
// accumulator.
func (s *State) procs() map[int64]*Process {
	if s.Procs == nil {
		s.Procs = make(map[int64]*Process)
	}

	return s.Procs
}

// Finalize orders threads by read and by write volume.
func (a *Analyzer) Finalize(acc *State) {
	acc.buildSorted()
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
