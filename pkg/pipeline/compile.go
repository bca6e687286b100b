package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/logsleuth/logsleuth/pkg/models"
)

// filenameSanitizer reduces trace IDs to the characters the download
// endpoint will serve.
var filenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// compileTrace assembles one trace from its fetched lines: chronological
// order, unique sources and services, start/end times, and a byte cap that
// truncates at the nearest line boundary.
func compileTrace(traceID string, lines []models.Line, maxBytes int64) models.CompiledTrace {
	sorted := append([]models.Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	trace := models.CompiledTrace{TraceID: traceID}
	var bytes int64
	seenSources := make(map[string]bool)
	seenServices := make(map[string]bool)

	for _, l := range sorted {
		if maxBytes > 0 && bytes+int64(len(l.Raw)) > maxBytes {
			trace.Truncated = true
			break
		}
		bytes += int64(len(l.Raw))
		trace.Lines = append(trace.Lines, l)

		if l.Source != "" && !seenSources[l.Source] {
			seenSources[l.Source] = true
			trace.Sources = append(trace.Sources, l.Source)
		}
		if svc := l.Fields["service"]; svc != "" && !seenServices[svc] {
			seenServices[svc] = true
			trace.Services = append(trace.Services, svc)
		}
	}

	if n := len(trace.Lines); n > 0 {
		trace.StartTime = trace.Lines[0].Timestamp
		trace.EndTime = trace.Lines[n-1].Timestamp
	}
	return trace
}

// renderTrace is the on-disk text form of a compiled trace.
func renderTrace(trace models.CompiledTrace) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "trace %s (%d lines", trace.TraceID, len(trace.Lines))
	if len(trace.Sources) > 0 {
		fmt.Fprintf(&b, " from %s", strings.Join(trace.Sources, ", "))
	}
	b.WriteString(")\n")
	if trace.Truncated {
		b.WriteString("NOTE: trace truncated at the byte cap\n")
	}
	b.WriteString("\n")

	for _, l := range trace.Lines {
		if !l.Timestamp.IsZero() {
			b.WriteString(l.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
			b.WriteByte(' ')
		}
		if l.Source != "" {
			b.WriteString("[" + l.Source + "] ")
		}
		b.WriteString(l.Raw)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// traceFileName and artifactFileName assign names in discovery order so
// output is deterministic regardless of analysis completion order.
func traceFileName(index int, traceID string) string {
	return fmt.Sprintf("trace_%02d_%s.txt", index+1, sanitizeID(traceID))
}

func artifactFileName(index int, traceID string) string {
	return fmt.Sprintf("analysis_%02d_%s.json", index+1, sanitizeID(traceID))
}

func sanitizeID(traceID string) string {
	return filenameSanitizer.ReplaceAllString(traceID, "_")
}

// writeFileAtomic writes data to dir/name via a temporary file and rename,
// removing the temporary on any failure.
func writeFileAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	final := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return final, nil
}
