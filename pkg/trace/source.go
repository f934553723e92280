// Package trace defines the event-source contract consumed by the analyses.
// The CTF event decoder itself is an external collaborator; it plugs in
// through RegisterDecoder the way database drivers plug into database/sql.
package trace

import (
	"iter"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/ctf"
)

// KindLTTNGKernel is the trace kind whose event-type map is consulted when
// resolving event names to ids.
const KindLTTNGKernel = "lttng-kernel"

// EventID is the numeric id of an event type within a trace.
type EventID uint64

// Event is one decoded trace event. Payload fields and stream-context fields
// (cpu_id, tid, procname) are looked up by name; the second return value
// reports whether the field exists with the requested type.
type Event interface {
	ID() EventID
	Name() string
	Timestamp() uint64

	UintField(name string) (uint64, bool)
	IntField(name string) (int64, bool)
	StringField(name string) (string, bool)

	UintContext(name string) (uint64, bool)
	IntContext(name string) (int64, bool)
	StringContext(name string) (string, bool)
}

// Source is an open trace. A source holds its own cursor and must not be
// shared between goroutines; open one source per worker.
type Source interface {
	BeginNS() uint64
	EndNS() uint64
	Clock() ctf.ClockInfo
	Kind() string

	// LookupEventID resolves an event name against the trace's event-type
	// map. The second return value is false when the trace has no such
	// event type.
	LookupEventID(name string) (EventID, bool)

	// Events yields events in timestamp order. A nil begin means "from the
	// start of the trace", a nil end means "to the end". Both bounds are
	// inclusive.
	Events(begin, end *uint64) iter.Seq2[Event, error]

	Close() error
}

// LookupID resolves an event name on src, restricted to kernel traces.
// Sources of any other kind never match.
func LookupID(src Source, name string) (EventID, bool) {
	if src.Kind() != KindLTTNGKernel {
		return 0, false
	}

	return src.LookupEventID(name)
}
