package llmcache

import "context"

// keyRecorderCtxKey is the context key for the per-request key recorder.
type keyRecorderCtxKey struct{}

// keyRecorder captures the cache key of the last gateway operation in a
// request so the HTTP layer can surface it as a response header.
type keyRecorder struct {
	key string
}

// WithKeyRecorder returns a context carrying a fresh key recorder. Installed
// by the HTTP middleware at the top of each request.
func WithKeyRecorder(ctx context.Context) context.Context {
	return context.WithValue(ctx, keyRecorderCtxKey{}, &keyRecorder{})
}

// RecordedKey returns the cache key of the last gateway operation for this
// request, or empty when no cache operation happened.
func RecordedKey(ctx context.Context) string {
	if r, ok := ctx.Value(keyRecorderCtxKey{}).(*keyRecorder); ok {
		return r.key
	}
	return ""
}

// recordKey stores key into the request's recorder, if one is installed.
func recordKey(ctx context.Context, key string) {
	if r, ok := ctx.Value(keyRecorderCtxKey{}).(*keyRecorder); ok {
		r.key = key
	}
}
