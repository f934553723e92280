package io

import (
	"fmt"
	stdio "io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// topThreads is the number of threads shown per result table.
const topThreads = 10

// bannerWidth is the width of the separator line around results.
const bannerWidth = 80

// ThreadReport is one thread's I/O totals.
type ThreadReport struct {
	TID            int64  `json:"tid" yaml:"tid"`
	Comm           string `json:"comm" yaml:"comm"`
	ReadBytes      uint64 `json:"read_bytes" yaml:"read_bytes"`
	WriteBytes     uint64 `json:"write_bytes" yaml:"write_bytes"`
	ReadCount      uint64 `json:"read_count" yaml:"read_count"`
	WriteCount     uint64 `json:"write_count" yaml:"write_count"`
	ReadLatencyNS  uint64 `json:"read_latency_ns" yaml:"read_latency_ns"`
	WriteLatencyNS uint64 `json:"write_latency_ns" yaml:"write_latency_ns"`
}

// Report is the serializable result of an I/O analysis.
type Report struct {
	ByRead  []ThreadReport `json:"by_read" yaml:"by_read"`
	ByWrite []ThreadReport `json:"by_write" yaml:"by_write"`
}

// BuildReport converts a finalized state into a report.
func BuildReport(st *State) Report {
	var rep Report

	for _, p := range st.ByRead {
		rep.ByRead = append(rep.ByRead, threadReport(p))
	}

	for _, p := range st.ByWrite {
		rep.ByWrite = append(rep.ByWrite, threadReport(p))
	}

	return rep
}

func threadReport(p Process) ThreadReport {
	return ThreadReport{
		TID:            p.TID,
		Comm:           p.Comm,
		ReadBytes:      p.ReadBytes,
		WriteBytes:     p.WriteBytes,
		ReadCount:      p.ReadCount,
		WriteCount:     p.WriteCount,
		ReadLatencyNS:  p.ReadLatencyNS,
		WriteLatencyNS: p.WriteLatencyNS,
	}
}

// Render writes the human-readable result tables: top threads by read
// volume, then by write volume.
func Render(w stdio.Writer, st *State) {
	line := strings.Repeat("-", bannerWidth)

	fmt.Fprintln(w, line)
	color.New(color.Bold).Fprintln(w, "Result of I/O analysis")
	fmt.Fprintln(w)

	renderSide(w, "Syscall I/O Read", st.ByRead, func(p Process) uint64 { return p.ReadBytes })

	fmt.Fprintln(w, line)

	renderSide(w, "Syscall I/O Write", st.ByWrite, func(p Process) uint64 { return p.WriteBytes })
}

func renderSide(w stdio.Writer, title string, procs []Process, bytes func(Process) uint64) {
	fmt.Fprintln(w, title)
	fmt.Fprintln(w)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Process", "Size"})

	for i, p := range procs {
		if i >= topThreads {
			break
		}

		tw.AppendRow(table.Row{
			fmt.Sprintf("%s (%d)", p.Comm, p.TID),
			humanize.IBytes(bytes(p)),
		})
	}

	tw.Render()
}
