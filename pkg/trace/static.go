package trace

import (
	"iter"
	"sort"

	"github.com/TheZorg/lttng-parallel-analyses/pkg/ctf"
)

// StaticEvent is an in-memory event. Field and context values may be uint64,
// int64 or string.
type StaticEvent struct {
	EventID   EventID
	EventName string
	TS        uint64
	Fields    map[string]any
	Context   map[string]any
}

// ID returns the event's numeric type id.
func (e *StaticEvent) ID() EventID { return e.EventID }

// Name returns the event's type name.
func (e *StaticEvent) Name() string { return e.EventName }

// Timestamp returns the event's wall-clock timestamp in nanoseconds.
func (e *StaticEvent) Timestamp() uint64 { return e.TS }

// UintField returns a payload field as an unsigned integer.
func (e *StaticEvent) UintField(name string) (uint64, bool) { return lookupUint(e.Fields, name) }

// IntField returns a payload field as a signed integer.
func (e *StaticEvent) IntField(name string) (int64, bool) { return lookupInt(e.Fields, name) }

// StringField returns a payload field as a string.
func (e *StaticEvent) StringField(name string) (string, bool) { return lookupString(e.Fields, name) }

// UintContext returns a stream-context field as an unsigned integer.
func (e *StaticEvent) UintContext(name string) (uint64, bool) { return lookupUint(e.Context, name) }

// IntContext returns a stream-context field as a signed integer.
func (e *StaticEvent) IntContext(name string) (int64, bool) { return lookupInt(e.Context, name) }

// StringContext returns a stream-context field as a string.
func (e *StaticEvent) StringContext(name string) (string, bool) { return lookupString(e.Context, name) }

func lookupUint(m map[string]any, name string) (uint64, bool) {
	switch v := m[name].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}

	return 0, false
}

func lookupInt(m map[string]any, name string) (int64, bool) {
	switch v := m[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	}

	return 0, false
}

func lookupString(m map[string]any, name string) (string, bool) {
	v, ok := m[name].(string)

	return v, ok
}

// StaticSource is an in-memory event source. It backs the property tests and
// synthetic benchmarks; unlike a real decoder-backed source it is safe to
// share, since iteration state lives in the iterator, not the source.
type StaticSource struct {
	Begin     uint64
	End       uint64
	TraceKind string
	ClockInfo ctf.ClockInfo
	IDs       map[string]EventID
	EventList []*StaticEvent
}

// NewStaticSource builds a source over events, assigning event-type ids in
// name order and sorting events by timestamp. Begin and End delimit the
// trace's global time extent and may lie outside the events themselves.
func NewStaticSource(begin, end uint64, events []*StaticEvent) *StaticSource {
	src := &StaticSource{
		Begin:     begin,
		End:       end,
		TraceKind: KindLTTNGKernel,
		ClockInfo: ctf.ClockInfo{FrequencyHz: 1000000000},
		IDs:       make(map[string]EventID),
		EventList: events,
	}

	names := make([]string, 0, len(events))
	seen := make(map[string]bool)

	for _, ev := range events {
		if !seen[ev.EventName] {
			seen[ev.EventName] = true

			names = append(names, ev.EventName)
		}
	}

	sort.Strings(names)

	for i, name := range names {
		src.IDs[name] = EventID(i + 1)
	}

	for _, ev := range events {
		ev.EventID = src.IDs[ev.EventName]
	}

	sort.SliceStable(src.EventList, func(i, j int) bool {
		return src.EventList[i].TS < src.EventList[j].TS
	})

	return src
}

// BeginNS returns the trace's global begin timestamp.
func (s *StaticSource) BeginNS() uint64 { return s.Begin }

// EndNS returns the trace's global end timestamp.
func (s *StaticSource) EndNS() uint64 { return s.End }

// Clock returns the trace clock metadata.
func (s *StaticSource) Clock() ctf.ClockInfo { return s.ClockInfo }

// Kind returns the trace kind.
func (s *StaticSource) Kind() string { return s.TraceKind }

// LookupEventID resolves an event name to its id.
func (s *StaticSource) LookupEventID(name string) (EventID, bool) {
	id, ok := s.IDs[name]

	return id, ok
}

// Events yields events with begin <= ts <= end, in timestamp order.
func (s *StaticSource) Events(begin, end *uint64) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for _, ev := range s.EventList {
			if begin != nil && ev.TS < *begin {
				continue
			}

			if end != nil && ev.TS > *end {
				break
			}

			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Close releases the source. It is a no-op for in-memory sources.
func (s *StaticSource) Close() error { return nil }
