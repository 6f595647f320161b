package main

import (
	"fmt"
	"os"

	"github.com/sadopc/apicap/pkg/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			serveCmd()
			return
		case "list":
			listCmd()
			return
		case "export":
			exportCmd()
			return
		case "version":
			fmt.Printf("apicap %s (%s) built %s\n", version.Version, version.Commit, version.Date)
			return
		case "help":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `apicap - inline API capture and deduplication for proxied HTTP traffic

Usage:
  apicap <command> [flags]

Commands:
  serve     Run the capture proxy and the read API
  list      List the most recent captured exchanges
  export    Export captured exchanges as HAR 1.2
  version   Print version information
  help      Show this help message

Run 'apicap <command> --help' for more information about a command.
`)
}
