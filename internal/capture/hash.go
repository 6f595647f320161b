package capture

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ContentHash computes the exchange's exact-duplicate hash from method, full
// URL and key-sorted query JSON, plus the request body for mutating methods.
// The digest is fast and stable across runs and platforms; it does not need
// cryptographic strength.
func ContentHash(ex *Exchange) string {
	components := []string{
		ex.Method,
		ex.URL,
		sortedJSON(firstValues(ex.Query)),
	}

	if isMutating(ex.Method) && len(ex.RequestBody) > 0 {
		components = append(components, bodyComponent(ex))
	}

	sum := xxhash.Sum64String(strings.Join(components, "|"))
	return fmt.Sprintf("%016x", sum)
}

func isMutating(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// bodyComponent returns the key-sorted JSON of a JSON request body, or the
// raw body text when the body is not JSON (or fails to parse).
func bodyComponent(ex *Exchange) string {
	ct := strings.ToLower(ex.Headers.Get("Content-Type"))
	if strings.HasPrefix(ct, "application/json") {
		var decoded any
		if err := json.Unmarshal(ex.RequestBody, &decoded); err == nil {
			if b, err := json.Marshal(decoded); err == nil {
				return string(b)
			}
		}
	}
	return string(ex.RequestBody)
}

// firstValues collapses a multi-value query to its first values, matching
// the signature composer's view of the parameters.
func firstValues(q map[string][]string) map[string]string {
	m := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			m[k] = vs[0]
		} else {
			m[k] = ""
		}
	}
	return m
}
