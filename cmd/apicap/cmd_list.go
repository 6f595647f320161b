package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sahilm/fuzzy"
	"github.com/tidwall/pretty"

	"github.com/sadopc/apicap/internal/store"
)

func listCmd() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbFlag := fs.String("db", "./api_data.db", "SQLite database path")
	limitFlag := fs.Int("limit", 50, "Maximum number of records")
	filterFlag := fs.String("filter", "", "Fuzzy-match URLs against this pattern")
	jsonFlag := fs.Bool("json", false, "Emit records as pretty-printed JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: apicap list [flags]\n\n")
		fmt.Fprintf(os.Stderr, "List the most recent captured exchanges, newest first.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  apicap list --db ./api_data.db --limit 20\n")
		fmt.Fprintf(os.Stderr, "  apicap list --filter users --json\n")
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	st, err := store.Open(*dbFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := st.ListRecent(ctx, *limitFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *filterFlag != "" {
		records = fuzzyFilter(records, *filterFlag)
	}

	if *jsonFlag {
		printJSON(records)
		return
	}
	printTable(records)
}

// fuzzyFilter keeps records whose URL fuzzy-matches the pattern, best
// matches first.
func fuzzyFilter(records []store.Record, pattern string) []store.Record {
	urls := make([]string, len(records))
	for i, r := range records {
		urls[i] = r.URL
	}
	matches := fuzzy.Find(pattern, urls)
	out := make([]store.Record, 0, len(matches))
	for _, m := range matches {
		out = append(out, records[m.Index])
	}
	return out
}

func printJSON(records []store.Record) {
	type jsonRecord struct {
		ID           int64   `json:"id"`
		Method       string  `json:"method"`
		URL          string  `json:"url"`
		Status       int     `json:"status"`
		Timestamp    float64 `json:"timestamp"`
		ResponseTime float64 `json:"response_time"`
		RequestBody  string  `json:"request_body,omitempty"`
		ResponseBody string  `json:"response_body,omitempty"`
	}

	out := make([]jsonRecord, 0, len(records))
	for _, r := range records {
		out = append(out, jsonRecord{
			ID:           r.ID,
			Method:       r.Method,
			URL:          r.URL,
			Status:       r.ResponseStatus,
			Timestamp:    r.Timestamp,
			ResponseTime: r.ResponseTime,
			RequestBody:  r.RequestBody,
			ResponseBody: r.ResponseBody,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	os.Stdout.Write(pretty.Pretty(data))
}

func printTable(records []store.Record) {
	if len(records) == 0 {
		fmt.Println("no captured exchanges")
		return
	}
	for _, r := range records {
		age := "unknown"
		if r.Timestamp > 0 {
			age = humanize.Time(time.Unix(int64(r.Timestamp), 0))
		}
		size := humanize.Bytes(uint64(len(r.ResponseBody)))
		fmt.Printf("%6d  %-7s %-3d  %8s  %-14s  %s\n",
			r.ID, r.Method, r.ResponseStatus, size, age, r.URL)
	}
}
