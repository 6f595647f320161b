// Package har exports captured records in HAR 1.2 format.
package har

import (
	"encoding/json"
	"time"

	"github.com/sadopc/apicap/internal/store"
	"github.com/sadopc/apicap/pkg/version"
)

// HAR represents the HAR 1.2 format for export.
type HAR struct {
	Log HARLog `json:"log"`
}

// HARLog is the top-level log object.
type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the tool that created the HAR.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry represents a single request/response pair.
type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Timings         HARTimings  `json:"timings"`
}

// HARRequest is the request portion of an entry.
type HARRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []HARHeader  `json:"headers"`
	QueryString []HARQuery   `json:"queryString"`
	PostData    *HARPostData `json:"postData,omitempty"`
	HeadersSize int          `json:"headersSize"`
	BodySize    int          `json:"bodySize"`
}

// HARResponse is the response portion of an entry.
type HARResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []HARHeader `json:"headers"`
	Content     HARContent  `json:"content"`
	HeadersSize int         `json:"headersSize"`
	BodySize    int         `json:"bodySize"`
}

// HARHeader is a name/value pair for headers.
type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARQuery is a name/value pair for query string parameters.
type HARQuery struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARPostData is the body of a request.
type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARContent is the body of a response.
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARTimings holds timing info for an entry. Captured records only know the
// total latency, reported as wait time.
type HARTimings struct {
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	SSL     float64 `json:"ssl"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Export creates a HAR 1.2 JSON document from captured records.
func Export(records []store.Record) ([]byte, error) {
	entries := make([]HAREntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, buildEntry(r))
	}

	har := HAR{
		Log: HARLog{
			Version: "1.2",
			Creator: HARCreator{Name: "apicap", Version: version.Version},
			Entries: entries,
		},
	}

	return json.MarshalIndent(har, "", "  ")
}

func buildEntry(r store.Record) HAREntry {
	started := time.Unix(0, int64(r.Timestamp*float64(time.Second)))
	totalMillis := r.ResponseTime * 1000

	return HAREntry{
		StartedDateTime: started.UTC().Format(time.RFC3339),
		Time:            totalMillis,
		Request:         buildRequest(r),
		Response:        buildResponse(r),
		Timings: HARTimings{
			DNS:     -1,
			Connect: -1,
			SSL:     -1,
			Send:    0,
			Wait:    totalMillis,
			Receive: 0,
		},
	}
}

func buildRequest(r store.Record) HARRequest {
	headers := decodeHeaders(r.Headers)
	harReq := HARRequest{
		Method:      r.Method,
		URL:         r.URL,
		HTTPVersion: "HTTP/1.1",
		Headers:     headers,
		QueryString: decodeQuery(r.QueryParams),
		HeadersSize: -1,
		BodySize:    len(r.RequestBody),
	}

	if len(r.RequestBody) > 0 {
		mimeType := "text/plain"
		for _, h := range headers {
			if h.Name == "Content-Type" {
				mimeType = h.Value
				break
			}
		}
		harReq.PostData = &HARPostData{
			MimeType: mimeType,
			Text:     r.RequestBody,
		}
	}

	return harReq
}

func buildResponse(r store.Record) HARResponse {
	headers := decodeHeaders(r.ResponseHeaders)
	mimeType := ""
	for _, h := range headers {
		if h.Name == "Content-Type" {
			mimeType = h.Value
			break
		}
	}

	return HARResponse{
		Status:      r.ResponseStatus,
		StatusText:  "",
		HTTPVersion: "HTTP/1.1",
		Headers:     headers,
		HeadersSize: -1,
		BodySize:    len(r.ResponseBody),
		Content: HARContent{
			Size:     len(r.ResponseBody),
			MimeType: mimeType,
			Text:     r.ResponseBody,
		},
	}
}

// decodeHeaders turns a stored JSON header object into HAR name/value
// pairs. Unparseable input yields no headers rather than an error.
func decodeHeaders(jsonText string) []HARHeader {
	m := map[string]string{}
	if jsonText != "" {
		_ = json.Unmarshal([]byte(jsonText), &m)
	}
	headers := make([]HARHeader, 0, len(m))
	for k, v := range m {
		headers = append(headers, HARHeader{Name: k, Value: v})
	}
	return headers
}

func decodeQuery(jsonText string) []HARQuery {
	m := map[string]string{}
	if jsonText != "" {
		_ = json.Unmarshal([]byte(jsonText), &m)
	}
	queries := make([]HARQuery, 0, len(m))
	for k, v := range m {
		queries = append(queries, HARQuery{Name: k, Value: v})
	}
	return queries
}
