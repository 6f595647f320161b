// Package capture decides, for every completed request/response exchange
// observed by a hosting proxy, whether it is new application-API traffic
// worth persisting or noise (a static asset or a duplicate of something
// already stored).
package capture

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Exchange is one completed request/response pair as observed by the
// hosting proxy. It is owned by the host for its lifetime; the pipeline
// never mutates it.
type Exchange struct {
	// ID correlates log lines for one exchange; the host assigns it.
	ID string

	Method string
	URL    string // full request URL
	Host   string
	Path   string
	Query  url.Values

	Headers     http.Header
	RequestBody []byte

	// Status is 0 when no response was observed.
	Status      int
	RespHeaders http.Header
	RespBody    []byte

	Start      time.Time
	Duration   time.Duration
	ClientAddr string
}

// NewExchange parses rawURL and fills the derived Host/Path/Query fields.
// A malformed URL yields an exchange with empty derived fields rather than
// an error; classification and signatures degrade gracefully.
func NewExchange(method, rawURL string) *Exchange {
	ex := &Exchange{Method: method, URL: rawURL, Query: url.Values{}}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ex
	}
	ex.Host = u.Host
	ex.Path = u.Path
	ex.Query = u.Query()
	return ex
}

// ContentType returns the response content type with any parameters after
// ";" stripped, lower-cased. Empty when there is no response.
func (ex *Exchange) ContentType() string {
	if ex.RespHeaders == nil {
		return ""
	}
	ct := ex.RespHeaders.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// HasResponse reports whether a response was observed for this exchange.
func (ex *Exchange) HasResponse() bool {
	return ex.Status != 0
}
