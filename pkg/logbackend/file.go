package logbackend

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/logsleuth/logsleuth/pkg/models"
)

// maxScanTokenSize bounds a single log line; longer lines are split by the
// scanner and treated as separate lines.
const maxScanTokenSize = 1024 * 1024

// logExtensions are the filename suffixes the walker considers.
var logExtensions = []string{".log", ".txt", ".out"}

// FileBackend scans an environment-specific directory tree for matching log
// lines. Reads are capped at maxBytes per run and every opened path is
// verified to stay inside the configured base directory.
type FileBackend struct {
	maxBytes int64
}

// NewFileBackend creates a file adapter with the given per-run byte cap.
func NewFileBackend(maxBytes int64) *FileBackend {
	return &FileBackend{maxBytes: maxBytes}
}

// Kind implements Backend.
func (b *FileBackend) Kind() models.LogSourceType { return models.LogSourceFile }

// FindCandidates implements Backend. It walks env.BaseLogPath, applies
// name/date filters derived from params, and scans surviving files for
// keyword matches.
func (b *FileBackend) FindCandidates(ctx context.Context, params models.Parameters, env models.ProjectEnv) (*SearchResult, error) {
	base, err := filepath.Abs(env.BaseLogPath)
	if err != nil {
		return nil, fmt.Errorf("resolve base log path: %w", err)
	}

	files, err := b.candidateFiles(ctx, base, params.TimeFrame)
	if err != nil {
		return nil, err
	}

	keywords := lowercase(params.QueryKeys)
	if params.Domain != "" {
		keywords = append(keywords, strings.ToLower(params.Domain))
	}

	result := &SearchResult{}
	var bytesRead int64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, n, err := b.scanFile(path, func(line string) bool {
			return matchesAny(line, keywords)
		}, b.maxBytes-bytesRead)
		if err != nil {
			return nil, err
		}
		bytesRead += n
		if len(lines) > 0 {
			result.Files = append(result.Files, path)
			result.Lines = append(result.Lines, lines...)
		}
	}
	return result, nil
}

// FetchByTraceIDs implements Backend. It rescans the tree collecting every
// line that mentions one of the trace IDs.
func (b *FileBackend) FetchByTraceIDs(ctx context.Context, ids []string, env models.ProjectEnv) (map[string][]models.Line, error) {
	base, err := filepath.Abs(env.BaseLogPath)
	if err != nil {
		return nil, fmt.Errorf("resolve base log path: %w", err)
	}
	files, err := b.candidateFiles(ctx, base, "")
	if err != nil {
		return nil, err
	}

	out := make(map[string][]models.Line, len(ids))
	var bytesRead int64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, n, err := b.scanFile(path, func(line string) bool {
			return containsAnyID(line, ids)
		}, b.maxBytes-bytesRead)
		if err != nil {
			return nil, err
		}
		bytesRead += n
		for _, l := range lines {
			for _, id := range ids {
				if strings.Contains(l.Raw, id) {
					out[id] = append(out[id], l)
				}
			}
		}
	}
	return out, nil
}

// candidateFiles walks the tree under base collecting log files that pass
// the date filter, skipping anything that resolves outside base.
func (b *FileBackend) candidateFiles(ctx context.Context, base, date string) ([]string, error) {
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("base log path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base log path %s is not a directory", base)
	}

	var files []string
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !hasLogExtension(d.Name()) {
			return nil
		}
		ok, err := withinBase(base, path)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("Skipping log file outside base directory", "path", path, "base", base)
			return nil
		}
		if date != "" && !fileMatchesDate(path, d, date) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", base, err)
	}
	return files, nil
}

// scanFile reads path line by line, keeping lines accepted by match. The
// read budget caps total bytes; exhausting it fails the run with ErrTooLarge.
func (b *FileBackend) scanFile(path string, match func(string) bool, budget int64) ([]models.Line, int64, error) {
	if budget <= 0 {
		return nil, 0, ErrTooLarge
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	var lines []models.Line
	var read int64
	for scanner.Scan() {
		text := scanner.Text()
		read += int64(len(text)) + 1
		if read > budget {
			return nil, read, ErrTooLarge
		}
		if !match(text) {
			continue
		}
		lines = append(lines, models.Line{
			Timestamp: parseLineTimestamp(text),
			Raw:       text,
			Source:    filepath.Base(path),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, read, fmt.Errorf("scan %s: %w", path, err)
	}
	return lines, read, nil
}

// withinBase reports whether path (symlinks resolved) stays inside base.
func withinBase(base, path string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false, err
	}
	resolvedBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(resolvedBase, resolved)
	if err != nil {
		return false, nil
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

func hasLogExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range logExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// fileMatchesDate accepts files whose name mentions the date (either
// 2006-01-02 or 20060102 form) or whose modification day equals it.
func fileMatchesDate(path string, d fs.DirEntry, date string) bool {
	name := d.Name()
	if strings.Contains(name, date) || strings.Contains(name, strings.ReplaceAll(date, "-", "")) {
		return true
	}
	info, err := d.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Format("2006-01-02") == date
}

// parseLineTimestamp attempts the common timestamp prefixes; zero time when
// none match.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

func parseLineTimestamp(line string) time.Time {
	for _, layout := range timestampLayouts {
		if len(line) < len(layout) {
			continue
		}
		if ts, err := time.Parse(layout, line[:len(layout)]); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func lowercase(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

// matchesAny reports whether the line contains any keyword. An empty
// keyword list matches nothing; an unconstrained search would sweep the
// whole corpus.
func matchesAny(line string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(line)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func containsAnyID(line string, ids []string) bool {
	for _, id := range ids {
		if strings.Contains(line, id) {
			return true
		}
	}
	return false
}
