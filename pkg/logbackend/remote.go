package logbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/logsleuth/logsleuth/pkg/config"
	"github.com/logsleuth/logsleuth/pkg/logcache"
	"github.com/logsleuth/logsleuth/pkg/models"
)

// maxRemoteRetries caps retry attempts for one range query. Retries cover
// network errors, 429 and 5xx responses only.
const maxRemoteRetries = 3

// queryLimit is the per-request line limit passed to the aggregation API.
const queryLimit = 5000

// RemoteBackend queries a Loki-compatible log aggregation service. Responses
// are cached per query and the raw matched lines are written to download
// files so later pipeline stages can reference them.
type RemoteBackend struct {
	cfg         config.RemoteLogConfig
	client      *http.Client
	cache       *logcache.Cache
	downloadDir string
}

// NewRemoteBackend creates a remote adapter. cache may be nil to disable
// response caching; downloadDir receives the raw-log download files.
func NewRemoteBackend(cfg config.RemoteLogConfig, cache *logcache.Cache, downloadDir string) *RemoteBackend {
	return &RemoteBackend{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.RequestTimeout},
		cache:       cache,
		downloadDir: downloadDir,
	}
}

// Kind implements Backend.
func (b *RemoteBackend) Kind() models.LogSourceType { return models.LogSourceRemote }

// rangeQuery is the cache identity of one remote query.
type rangeQuery struct {
	Query   string `json:"query"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	TraceID string `json:"trace_id,omitempty"`
}

// FindCandidates implements Backend. It builds a stream selector for the
// environment's namespace, appends a case-insensitive keyword filter, and
// runs one range query.
func (b *RemoteBackend) FindCandidates(ctx context.Context, params models.Parameters, env models.ProjectEnv) (*SearchResult, error) {
	keywords := append([]string(nil), params.QueryKeys...)
	if params.Domain != "" {
		keywords = append(keywords, params.Domain)
	}
	if len(keywords) == 0 {
		return &SearchResult{}, nil
	}

	start, end := queryWindow(params.TimeFrame)
	q := rangeQuery{
		Query: b.selector(env.Namespace) + ` |~ ` + strconv.Quote("(?i)"+joinAlternation(keywords)),
		Start: start.UnixNano(),
		End:   end.UnixNano(),
	}

	lines, err := b.query(ctx, env.Namespace, q)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Lines: lines}
	if len(lines) > 0 {
		path, err := b.download(env.Namespace, lines)
		if err != nil {
			slog.Warn("Failed to write remote log download file", "namespace", env.Namespace, "error", err)
		} else {
			result.Files = append(result.Files, path)
		}
	}
	return result, nil
}

// FetchByTraceIDs implements Backend. One trace-scoped range query per ID;
// these hit the longer-lived cache class.
func (b *RemoteBackend) FetchByTraceIDs(ctx context.Context, ids []string, env models.ProjectEnv) (map[string][]models.Line, error) {
	start, end := queryWindow("")
	out := make(map[string][]models.Line, len(ids))
	for _, id := range ids {
		q := rangeQuery{
			Query:   b.selector(env.Namespace) + ` |= ` + strconv.Quote(id),
			Start:   start.UnixNano(),
			End:     end.UnixNano(),
			TraceID: id,
		}
		lines, err := b.query(ctx, env.Namespace, q)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			out[id] = lines
		}
	}
	return out, nil
}

// selector builds the base stream selector: the namespace matcher plus a
// negative matcher per configured exclude label, in stable order.
func (b *RemoteBackend) selector(namespace string) string {
	matchers := []string{fmt.Sprintf(`namespace=%s`, strconv.Quote(namespace))}

	labels := make([]string, 0, len(b.cfg.ExcludeLabels))
	for label := range b.cfg.ExcludeLabels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		matchers = append(matchers, fmt.Sprintf(`%s!=%s`, label, strconv.Quote(b.cfg.ExcludeLabels[label])))
	}
	return "{" + strings.Join(matchers, ", ") + "}"
}

// query runs one range query through the log cache and decodes the response
// streams into lines.
func (b *RemoteBackend) query(ctx context.Context, namespace string, q rangeQuery) ([]models.Line, error) {
	fetch := func(ctx context.Context) (json.RawMessage, error) {
		return b.fetchRange(ctx, q)
	}

	var raw json.RawMessage
	var err error
	if b.cache != nil {
		raw, _, err = b.cache.Query(ctx, namespace, q, fetch)
	} else {
		raw, err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	return decodeStreams(raw)
}

// fetchRange performs the HTTP range query with bounded retries. The
// response body is capped at MaxQueryBytes; exceeding it fails with
// ErrTooLarge and is not retried.
func (b *RemoteBackend) fetchRange(ctx context.Context, q rangeQuery) (json.RawMessage, error) {
	endpoint, err := url.Parse(b.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote log base URL: %w", err)
	}
	endpoint = endpoint.JoinPath("/loki/api/v1/query_range")
	values := url.Values{}
	values.Set("query", q.Query)
	values.Set("start", strconv.FormatInt(q.Start, 10))
	values.Set("end", strconv.FormatInt(q.End, 10))
	values.Set("limit", strconv.Itoa(queryLimit))
	values.Set("direction", "forward")
	endpoint.RawQuery = values.Encode()

	operation := func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if b.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("remote log query: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, backoff.Permanent(fmt.Errorf("remote log query: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, b.cfg.MaxQueryBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > b.cfg.MaxQueryBytes {
			return nil, backoff.Permanent(ErrTooLarge)
		}
		return json.RawMessage(body), nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRemoteRetries), ctx)
	return backoff.RetryWithData(operation, policy)
}

// rangeResponse mirrors the aggregation API's query_range body.
type rangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func decodeStreams(raw json.RawMessage) ([]models.Line, error) {
	var resp rangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode remote log response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("remote log query: status %q", resp.Status)
	}

	var lines []models.Line
	for _, stream := range resp.Data.Result {
		source := stream.Stream["filename"]
		if source == "" {
			source = stream.Stream["container"]
		}
		for _, v := range stream.Values {
			ns, err := strconv.ParseInt(v[0], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, models.Line{
				Timestamp: time.Unix(0, ns).UTC(),
				Raw:       v[1],
				Source:    source,
				Fields:    stream.Stream,
			})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Timestamp.Before(lines[j].Timestamp) })
	return lines, nil
}

// downloadNameSanitizer keeps download filenames shell and URL safe.
var downloadNameSanitizer = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// download writes the matched raw lines to a file under downloadDir and
// returns its path.
func (b *RemoteBackend) download(namespace string, lines []models.Line) (string, error) {
	if err := os.MkdirAll(b.downloadDir, 0o755); err != nil {
		return "", err
	}
	prefix := downloadNameSanitizer.ReplaceAllString(namespace, "_")
	f, err := os.CreateTemp(b.downloadDir, prefix+"-*.log")
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(f, l.Raw); err != nil {
			_ = f.Close()
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return filepath.Join(b.downloadDir, filepath.Base(f.Name())), nil
}

// queryWindow converts an extracted date into a UTC day range; an empty
// date means the trailing 24 hours.
func queryWindow(date string) (time.Time, time.Time) {
	if date != "" {
		if day, err := time.Parse("2006-01-02", date); err == nil {
			return day, day.Add(24 * time.Hour)
		}
	}
	now := time.Now().UTC()
	return now.Add(-24 * time.Hour), now
}

// joinAlternation builds the keyword alternation for the line filter,
// escaping regex metacharacters in each keyword.
func joinAlternation(keywords []string) string {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		quoted = append(quoted, regexp.QuoteMeta(k))
	}
	return strings.Join(quoted, "|")
}
