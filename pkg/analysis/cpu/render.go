package cpu

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// topThreads is the number of threads shown in the result table.
const topThreads = 10

// bannerWidth is the width of the separator line around results.
const bannerWidth = 80

// CPUReport is one CPU's share of the trace.
type CPUReport struct {
	ID      uint32  `json:"id" yaml:"id"`
	BusyNS  uint64  `json:"busy_ns" yaml:"busy_ns"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// ThreadReport is one thread's share of the trace.
type ThreadReport struct {
	TID     int64   `json:"tid" yaml:"tid"`
	Comm    string  `json:"comm" yaml:"comm"`
	CPUNS   uint64  `json:"cpu_ns" yaml:"cpu_ns"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// Report is the serializable result of a CPU analysis.
type Report struct {
	StartNS uint64         `json:"start_ns" yaml:"start_ns"`
	EndNS   uint64         `json:"end_ns" yaml:"end_ns"`
	CPUs    []CPUReport    `json:"cpus" yaml:"cpus"`
	Threads []ThreadReport `json:"threads" yaml:"threads"`
}

// BuildReport converts a finalized state into a report.
func BuildReport(st *State) Report {
	total := st.End - st.Start

	rep := Report{StartNS: st.Start, EndNS: st.End}

	for _, c := range st.CPUs {
		rep.CPUs = append(rep.CPUs, CPUReport{
			ID:      c.ID,
			BusyNS:  c.BusyNS,
			Percent: percent(c.BusyNS, total),
		})
	}

	for _, p := range st.SortedProcs {
		rep.Threads = append(rep.Threads, ThreadReport{
			TID:     p.TID,
			Comm:    p.Comm,
			CPUNS:   p.CPUNS,
			Percent: percent(p.CPUNS, total),
		})
	}

	return rep
}

// Render writes the human-readable result tables: per-CPU shares and the
// top threads by on-CPU time.
func Render(w io.Writer, st *State) {
	rep := BuildReport(st)
	line := strings.Repeat("-", bannerWidth)

	fmt.Fprintln(w, line)
	color.New(color.Bold).Fprintln(w, "Result of cpu analysis")
	fmt.Fprintln(w)

	cpus := table.NewWriter()
	cpus.SetOutputMirror(w)
	cpus.AppendHeader(table.Row{"CPU", "Percentage time"})

	for _, c := range rep.CPUs {
		cpus.AppendRow(table.Row{fmt.Sprintf("CPU %d", c.ID), fmt.Sprintf("%.2f", c.Percent)})
	}

	cpus.Render()

	fmt.Fprintln(w, line)

	threads := table.NewWriter()
	threads.SetOutputMirror(w)
	threads.AppendHeader(table.Row{"Process", "Percentage time"})

	for i, p := range rep.Threads {
		if i >= topThreads {
			break
		}

		threads.AppendRow(table.Row{
			fmt.Sprintf("%s (%d)", p.Comm, p.TID),
			fmt.Sprintf("%.2f", p.Percent),
		})
	}

	threads.Render()
}

func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}

	return float64(part) * 100 / float64(total)
}
