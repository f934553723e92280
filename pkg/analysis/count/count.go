// Package count implements the event-count analysis.
package count

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/trace"
)

// Analyzer counts the events in a trace. The per-chunk state is a plain
// counter and the reducer is addition, so any fold order is legal.
type Analyzer struct {
	Logger *slog.Logger
}

// Name returns the analysis name.
func (a *Analyzer) Name() string { return "count" }

// OrderedReduce reports that chunk order does not matter for counting.
func (a *Analyzer) OrderedReduce() bool { return false }

// Map counts the events between begin and end.
func (a *Analyzer) Map(ctx context.Context, src trace.Source, begin, end *uint64) (uint64, error) {
	var count uint64

	for _, err := range src.Events(begin, end) {
		if err != nil {
			return 0, fmt.Errorf("count events: %w", err)
		}

		count++
	}

	a.logger().Debug("chunk counted",
		"events", count,
		"begin", boundaryString(begin),
		"end", boundaryString(end))

	return count, nil
}

// Reduce adds a chunk's count into the accumulator.
func (a *Analyzer) Reduce(acc *uint64, next uint64) {
	*acc += next
}

// Finalize is a no-op for counting.
func (a *Analyzer) Finalize(_ *uint64) {}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}

	return slog.Default()
}

// Report is the serializable result of a count analysis.
type Report struct {
	Events uint64 `json:"events" yaml:"events"`
}

// BuildReport converts a finalized counter into a report.
func BuildReport(total uint64) Report {
	return Report{Events: total}
}

// bannerWidth is the width of the separator line around results.
const bannerWidth = 80

// Render writes the human-readable result table.
func Render(w io.Writer, total uint64) {
	line := strings.Repeat("-", bannerWidth)

	fmt.Fprintln(w, line)
	color.New(color.Bold).Fprintln(w, "Result of count analysis")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-20s%s\n", "Number of events", humanize.Comma(int64(total)))
	fmt.Fprintln(w, line)
}

func boundaryString(ts *uint64) string {
	if ts == nil {
		return "open"
	}

	return fmt.Sprintf("%d", *ts)
}
