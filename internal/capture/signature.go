package capture

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Signature is the normalized (host, path, filtered-query) tuple used for
// fuzzy duplicate comparison. It is derived per exchange and never persisted
// as its own entity.
type Signature struct {
	Host      string
	Path      string
	QueryJSON string // key-sorted JSON object of the surviving parameters
}

// String renders the signature as host|path|sorted-query-json.
func (s Signature) String() string {
	return s.Host + "|" + s.Path + "|" + s.QueryJSON
}

// Query parameter names that churn on every request (timing, cache busting,
// session and tracing tokens) and would defeat similarity comparison.
var noiseParamNames = map[string]struct{}{
	// timestamps
	"timestamp": {}, "ts": {}, "t": {}, "_t": {}, "time": {}, "_time": {},
	"cache_buster": {}, "cb": {}, "r": {}, "rnd": {}, "random": {},
	"_": {}, "__": {}, "v": {}, "ver": {}, "version": {},
	// session and tracking
	"session": {}, "sid": {}, "ssid": {}, "uid": {}, "user_id": {},
	"token": {}, "csrf": {},
	// cache and debug
	"debug": {}, "nocache": {}, "bust": {}, "_bust": {}, "reload": {},
}

// Key substrings that mark a parameter as time-related.
var timeKeyPatterns = []string{"timestamp", "_time", "time_"}

// Parameter names whose values embed a URL; such values are normalized to
// scheme://host so two requests differing only in a deep link still compare
// as similar.
var urlParamNames = map[string]struct{}{
	"url": {}, "page_url": {}, "ref": {}, "referer": {}, "redirect": {},
}

// ComposeSignature builds the exchange's similarity signature: verbatim host
// and path plus a key-sorted JSON object of the query parameters that
// survive noise filtering.
func ComposeSignature(ex *Exchange) Signature {
	filtered := map[string]string{}

	for key, values := range ex.Query {
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		keyLower := strings.ToLower(key)

		if isNoiseParam(keyLower, value) {
			continue
		}

		if _, ok := urlParamNames[keyLower]; ok {
			filtered[key] = normalizeURLValue(value)
		} else {
			filtered[key] = value
		}
	}

	return Signature{
		Host:      ex.Host,
		Path:      ex.Path,
		QueryJSON: sortedJSON(filtered),
	}
}

// SignatureFromStored reconstructs a signature from a record's persisted
// host/path/query fields, re-serializing the query as sorted JSON so it
// compares consistently with composer output.
func SignatureFromStored(host, path, queryJSON string) Signature {
	params := map[string]string{}
	if queryJSON != "" {
		// Best effort: an unparseable stored query compares as empty.
		_ = json.Unmarshal([]byte(queryJSON), &params)
	}
	return Signature{Host: host, Path: path, QueryJSON: sortedJSON(params)}
}

func isNoiseParam(keyLower, value string) bool {
	if _, ok := noiseParamNames[keyLower]; ok {
		return true
	}
	for _, pattern := range timeKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	// A purely numeric value of 10+ digits is almost always a timestamp.
	// Known limitation: this also drops genuine long numeric identifiers.
	if len(value) >= 10 && isAllDigits(value) {
		return true
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func normalizeURLValue(value string) string {
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return value
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return value
	}
	return u.Scheme + "://" + u.Host
}

// sortedJSON marshals the map as a JSON object with sorted keys (the
// encoding/json map ordering guarantee). Marshaling a string map cannot
// fail; the fallback keeps the composer total anyway.
func sortedJSON(m map[string]string) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
