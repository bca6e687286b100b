package logbackend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsleuth/logsleuth/pkg/models"
)

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileBackendFindCandidates(t *testing.T) {
	dir := t.TempDir()
	appLog := writeLog(t, dir, "app.log",
		"2024-03-01T10:00:00Z payment_failed order=42\n"+
			"2024-03-01T10:00:01Z heartbeat ok\n"+
			"2024-03-01T10:00:02Z PAYMENT_FAILED retry order=42\n")
	writeLog(t, dir, "notes.md", "payment_failed but wrong extension\n")

	backend := NewFileBackend(1 << 20)
	result, err := backend.FindCandidates(context.Background(), models.Parameters{
		QueryKeys: []string{"payment_failed"},
	}, models.ProjectEnv{BaseLogPath: dir})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	assert.Contains(t, result.Lines[0].Raw, "payment_failed")
	assert.Contains(t, result.Lines[1].Raw, "PAYMENT_FAILED")
	assert.Equal(t, "app.log", result.Lines[0].Source)
	assert.Equal(t, []string{appLog}, result.Files)
	assert.False(t, result.Lines[0].Timestamp.IsZero())
}

func TestFileBackendDomainKeyword(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "svc.log", "checkout service degraded\nunrelated line\n")

	backend := NewFileBackend(1 << 20)
	result, err := backend.FindCandidates(context.Background(), models.Parameters{
		Domain: "checkout",
	}, models.ProjectEnv{BaseLogPath: dir})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Contains(t, result.Lines[0].Raw, "checkout")
}

func TestFileBackendNoKeywordsMatchesNothing(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "app.log", "anything at all\n")

	backend := NewFileBackend(1 << 20)
	result, err := backend.FindCandidates(context.Background(), models.Parameters{}, models.ProjectEnv{BaseLogPath: dir})
	require.NoError(t, err)
	assert.Empty(t, result.Lines)
	assert.Empty(t, result.Files)
}

func TestFileBackendDateFilter(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "app-2024-01-02.log", "error on the right day\n")
	writeLog(t, dir, "app-20240102.log", "error compact date form\n")
	writeLog(t, dir, "app-2024-01-03.log", "error on the wrong day\n")

	backend := NewFileBackend(1 << 20)
	result, err := backend.FindCandidates(context.Background(), models.Parameters{
		TimeFrame: "2024-01-02",
		QueryKeys: []string{"error"},
	}, models.ProjectEnv{BaseLogPath: dir})
	require.NoError(t, err)

	require.Len(t, result.Lines, 2)
	for _, l := range result.Lines {
		assert.NotContains(t, l.Raw, "wrong day")
	}
}

func TestFileBackendByteCap(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "big.log", "error line one well over the budget\nerror line two\n")

	backend := NewFileBackend(10)
	_, err := backend.FindCandidates(context.Background(), models.Parameters{
		QueryKeys: []string{"error"},
	}, models.ProjectEnv{BaseLogPath: dir})
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestFileBackendSymlinkOutsideBaseSkipped(t *testing.T) {
	outside := t.TempDir()
	secret := writeLog(t, outside, "secret.log", "error leaked secret\n")

	base := t.TempDir()
	writeLog(t, base, "safe.log", "error inside base\n")
	require.NoError(t, os.Symlink(secret, filepath.Join(base, "link.log")))

	backend := NewFileBackend(1 << 20)
	result, err := backend.FindCandidates(context.Background(), models.Parameters{
		QueryKeys: []string{"error"},
	}, models.ProjectEnv{BaseLogPath: base})
	require.NoError(t, err)

	require.Len(t, result.Lines, 1)
	assert.Contains(t, result.Lines[0].Raw, "inside base")
}

func TestFileBackendFetchByTraceIDs(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.log",
		"start trace_id=abc123def456\n"+
			"other trace_id=fff000fff000\n")
	writeLog(t, dir, "sub/b.log", "end trace_id=abc123def456\n")

	backend := NewFileBackend(1 << 20)
	got, err := backend.FetchByTraceIDs(context.Background(),
		[]string{"abc123def456", "000notfound000"},
		models.ProjectEnv{BaseLogPath: dir})
	require.NoError(t, err)

	require.Len(t, got["abc123def456"], 2)
	assert.NotContains(t, got, "000notfound000")
	assert.NotContains(t, got, "fff000fff000")
}

func TestFileBackendMissingBasePath(t *testing.T) {
	backend := NewFileBackend(1 << 20)
	_, err := backend.FindCandidates(context.Background(), models.Parameters{
		QueryKeys: []string{"error"},
	}, models.ProjectEnv{BaseLogPath: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
}

func TestFileBackendCancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "app.log", "error line\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := NewFileBackend(1 << 20)
	_, err := backend.FindCandidates(ctx, models.Parameters{
		QueryKeys: []string{"error"},
	}, models.ProjectEnv{BaseLogPath: dir})
	require.ErrorIs(t, err, context.Canceled)
}
