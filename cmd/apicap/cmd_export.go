package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sadopc/apicap/internal/export/har"
	"github.com/sadopc/apicap/internal/store"
)

func exportCmd() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbFlag := fs.String("db", "./api_data.db", "SQLite database path")
	limitFlag := fs.Int("limit", 0, "Export only the newest N records (0 = all recent, capped at 10000)")
	outFlag := fs.String("o", "", "Output file (default stdout)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: apicap export [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Export captured exchanges as a HAR 1.2 document.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  apicap export --db ./api_data.db -o capture.har\n")
		fmt.Fprintf(os.Stderr, "  apicap export --limit 100 > last100.har\n")
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	limit := *limitFlag
	if limit <= 0 {
		limit = 10000
	}

	st, err := store.Open(*dbFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := st.ListRecent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	data, err := har.Export(records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *outFlag == "" {
		os.Stdout.Write(data)
		fmt.Println()
		return
	}
	if err := os.WriteFile(*outFlag, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", len(records), *outFlag)
}
