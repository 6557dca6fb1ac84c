// Package tokenpool implements gateway credential selection: given a pool
// of Grok session credentials partitioned into super and basic tiers, and
// an optional sticky session key, deterministically pick one healthy
// credential appropriate for the requested model. A basic-tier model
// prefers a basic credential but falls back to the super pool when none
// is healthy; a super-tier model draws only from the super pool. It does
// not own refresh, persistence, or sticky-binding TTL bookkeeping — those
// stay upstream of this gateway.
package tokenpool

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const defaultPriority = 50

// Tier partitions the credential pool by the account grade a model
// requires.
type Tier string

const (
	TierSuper Tier = "super"
	TierBasic Tier = "basic"
)

// Credential is one pooled Grok session credential. Token reuses
// oauth2.Token's field shape (AccessToken/RefreshToken/Expiry) even
// though this gateway never runs the refresh flow itself. An empty Tier
// means the credential was never tagged and is treated as usable for
// either tier, so existing untagged pools keep working unchanged.
type Credential struct {
	ID       string
	Token    *oauth2.Token
	Priority int
	Healthy  bool
	Tier     Tier
}

func stableHash(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

func rendezvousScore(sessionKey, credentialID string) uint64 {
	h := sha256.New()
	_, _ = h.Write([]byte(sessionKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(credentialID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// PriorityFromAny coerces a loosely-typed settings-store value (float64
// from JSON, string from an environment overlay, ...) into an int
// priority. Returns false when v can't be interpreted as one.
func PriorityFromAny(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case float32:
		return int(val), true
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return 0, false
		}
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// TierForModel classifies a model name into the tier it requires. A
// "mini" model is served from the cheaper basic tier; every other model
// requires the super tier.
func TierForModel(model string) Tier {
	if strings.Contains(strings.ToLower(model), "mini") {
		return TierBasic
	}
	return TierSuper
}

func pickRendezvous(sessionKey string, candidates []Credential) *Credential {
	if sessionKey == "" || len(candidates) == 0 {
		return nil
	}
	var best *Credential
	var bestScore uint64
	for i := range candidates {
		c := &candidates[i]
		score := rendezvousScore(sessionKey, c.ID)
		if best == nil || score > bestScore || (score == bestScore && c.ID < best.ID) {
			best = c
			bestScore = score
		}
	}
	return best
}

// SessionKey derives a stable, opaque session key from a raw client
// identifier (an API key, a cookie value, ...). Returns "" if raw is
// empty, signaling callers to fall back to the deterministic default
// pick instead of rendezvous hashing.
func SessionKey(raw string) string {
	return stableHash(raw)
}

func filterHealthy(pool []Credential) []Credential {
	out := make([]Credential, 0, len(pool))
	for _, c := range pool {
		if c.Healthy {
			out = append(out, c)
		}
	}
	return out
}

func filterByTier(pool []Credential, tier Tier) []Credential {
	out := make([]Credential, 0, len(pool))
	for _, c := range pool {
		if c.Tier == "" || c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}

// Lookup selects one credential from pool for model and sessionKey.
// Unhealthy credentials are never selected. The pool is first narrowed to
// model's required tier (basic falls back to the super tier when no
// basic-or-untagged credential is healthy); within that set, only the
// lowest Priority value (closest to the front of the queue) are
// considered; ties are broken by rendezvous hashing against sessionKey,
// or — when sessionKey is empty — by the lexicographically smallest ID,
// so the result is deterministic either way.
func Lookup(pool []Credential, model, sessionKey string) (Credential, bool) {
	healthy := filterHealthy(pool)
	if len(healthy) == 0 {
		return Credential{}, false
	}

	tier := TierForModel(model)
	candidates := filterByTier(healthy, tier)
	if len(candidates) == 0 && tier == TierBasic {
		candidates = filterByTier(healthy, TierSuper)
	}
	if len(candidates) == 0 {
		return Credential{}, false
	}

	normalizedPriority := func(c Credential) int {
		if c.Priority == 0 {
			return defaultPriority
		}
		return c.Priority
	}

	minPriority := normalizedPriority(candidates[0])
	for _, c := range candidates[1:] {
		if p := normalizedPriority(c); p < minPriority {
			minPriority = p
		}
	}

	filtered := make([]Credential, 0, len(candidates))
	for _, c := range candidates {
		if normalizedPriority(c) == minPriority {
			filtered = append(filtered, c)
		}
	}

	if sessionKey != "" {
		if selected := pickRendezvous(sessionKey, filtered); selected != nil {
			return *selected, true
		}
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	return filtered[0], true
}
