// Package idempotency deduplicates mutating requests by tenant-scoped
// idempotency key, caching the first response for a TTL window.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RequestHash fingerprints a request as the SHA-256 of its canonical
// JSON form {body, method, path}. The body is decoded and re-encoded so
// key order and insignificant whitespace in the submitted JSON do not
// change the hash. A nil or empty body hashes as JSON null.
func RequestHash(method, path string, body []byte) (string, error) {
	var decoded any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return "", fmt.Errorf("request body is not valid JSON: %w", err)
		}
	}

	// encoding/json sorts map keys at every level, which makes the
	// output canonical.
	canonical, err := json.Marshal(map[string]any{
		"method": method,
		"path":   path,
		"body":   decoded,
	})
	if err != nil {
		return "", fmt.Errorf("marshal canonical request: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
