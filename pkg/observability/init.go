package observability

import (
	"log/slog"
	"os"
)

// serviceName is the service attribute attached to every log record.
const serviceName = "lttng-analyses"

// Init installs the process-wide default logger. Verbose lowers the level to
// Debug, which also enables per-chunk worker diagnostics.
func Init(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	slog.SetDefault(slog.New(NewTracingHandler(inner, serviceName)))
}
