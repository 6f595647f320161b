package store

import "time"

// Record is one captured exchange as persisted in the api_requests table.
type Record struct {
	ID              int64
	Hash            string
	Timestamp       float64 // exchange start, seconds since epoch
	Method          string
	URL             string
	Host            string
	Path            string
	QueryParams     string // JSON object text
	Headers         string // JSON object text
	RequestBody     string
	ResponseStatus  int // 0 when no response was seen
	ResponseHeaders string
	ResponseBody    string
	ResponseTime    float64 // seconds, 0 when unknown
	ClientAddr      string
	CapturedAt      time.Time // assigned by the store on insert
}

// SignatureRow is the subset of a record the fuzzy duplicate detector needs
// to reconstruct a signature.
type SignatureRow struct {
	Host        string
	Path        string
	QueryParams string
}
