package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// JobID records the job identifier under the key "job_id".
// If id is nil, it returns an empty Attr.
func JobID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("job_id", id)
}

// Kind records a job kind under the key "kind".
func Kind(kind string) slog.Attr {
	return slog.String("kind", kind)
}

// Queue records a queue name under the key "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// WorkerID records the worker identifier under the key "worker_id".
// If id is nil, it returns an empty Attr.
func WorkerID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("worker_id", id)
}

// DefinitionID records a schedule definition identifier under the key
// "definition_id". If id is nil, it returns an empty Attr.
func DefinitionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("definition_id", id)
}

// RunID records a schedule run identifier under the key "run_id".
// If id is nil, it returns an empty Attr.
func RunID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("run_id", id)
}

// SeriesID records a recurrence series identifier under the key "series_id".
// If id is nil, it returns an empty Attr.
func SeriesID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("series_id", id)
}

// Attempt records the attempt count under the key "attempt".
func Attempt(count int) slog.Attr {
	return slog.Int("attempt", count)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Handler records the handler name under the key "handler".
func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}
