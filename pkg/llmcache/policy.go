package llmcache

import "time"

// Status classifies the outcome of one Cached call.
type Status string

const (
	StatusHitL1                 Status = "HIT_L1"
	StatusHitL2                 Status = "HIT_L2"
	StatusMiss                  Status = "MISS"
	StatusCoalesced             Status = "COALESCED"
	StatusBypassDisabled        Status = "BYPASS_DISABLED"
	StatusBypassDefaultOff      Status = "BYPASS_DEFAULT_OFF"
	StatusBypassUnsupportedType Status = "BYPASS_UNSUPPORTED_TYPE"
)

// Policy carries per-request cache overrides. The zero value means "use the
// gateway defaults".
type Policy struct {
	// Enabled=false makes this call behave as if the cache were disabled.
	Enabled *bool

	// UseCache opts in to caching when the gateway runs in default_off mode.
	UseCache bool

	// NoCache skips the lookup but still stores the result (unless NoStore).
	NoCache bool

	// NoStore suppresses writing the result.
	NoStore bool

	// TTL overrides the default write TTL for this call.
	TTL time.Duration

	// SMaxAge rejects cached values older than this, even when present.
	SMaxAge time.Duration

	// Namespace overrides the gateway default namespace in the key.
	Namespace string
}

// enabled reports whether the policy explicitly disables the cache.
func (p *Policy) disabled() bool {
	return p != nil && p.Enabled != nil && !*p.Enabled
}

// Diagnostics describes what the gateway did for one call.
type Diagnostics struct {
	Status    Status        `json:"status"`
	Layer     string        `json:"layer,omitempty"` // l1, l2, compute
	Key       string        `json:"key,omitempty"`
	KeyPrefix string        `json:"key_prefix,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`

	// Waited is set for callers that were parked behind another caller's
	// in-flight compute for the same key.
	Waited bool `json:"waited,omitempty"`
}

// Envelope is the stored cache value. L2 persists it as canonical JSON; L1
// holds it directly.
type Envelope struct {
	CreatedAt int64  `json:"created_at"` // unix seconds
	Value     string `json:"value"`
}
