package models

import "time"

// Line is a single log line as returned by a log backend. Source is the
// originating filename for the file backend or a stream identifier for the
// remote backend.
type Line struct {
	Timestamp time.Time         `json:"timestamp"`
	Raw       string            `json:"raw"`
	Source    string            `json:"source"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// CompiledTrace is every log line sharing one trace ID, gathered across all
// source files, in original order.
type CompiledTrace struct {
	TraceID   string    `json:"trace_id"`
	Lines     []Line    `json:"lines"`
	Sources   []string  `json:"sources"`
	Services  []string  `json:"services,omitempty"`
	StartTime time.Time `json:"start_time,omitzero"`
	EndTime   time.Time `json:"end_time,omitzero"`

	// Truncated is set when the compiled payload was cut at the byte cap.
	Truncated bool `json:"truncated,omitempty"`
}

// LineCount returns the number of lines in the trace.
func (t *CompiledTrace) LineCount() int { return len(t.Lines) }
