package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/logsleuth/logsleuth/pkg/llm"
)

// keyPrefixLen is how many fingerprint characters appear in diagnostics.
const keyPrefixLen = 12

// deriveKey computes the human-readable cache key
// "llm:<cache_type>:<sha256 hex>" over the canonical-JSON tuple of
// (gateway_version, prompt_version, namespace, cache_type, model, messages,
// options). Bumping either version string invalidates every entry.
func deriveKey(gatewayVersion, promptVersion, namespace, cacheType, model string, messages []llm.Message, options llm.Options) (string, error) {
	tuple := []any{
		gatewayVersion,
		promptVersion,
		namespace,
		cacheType,
		model,
		messages,
		options,
	}
	canonical, err := CanonicalJSON(tuple)
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("llm:%s:%s", cacheType, hex.EncodeToString(sum[:])), nil
}

// keyPrefix returns a short prefix of the key for diagnostics and logs.
func keyPrefix(key string) string {
	if len(key) <= keyPrefixLen {
		return key
	}
	return key[:keyPrefixLen]
}
