package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "sync":
		return runSync(args[1:])
	case "parse":
		return runParse(args[1:])
	case "work":
		return runWork(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "conch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  conch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify Postgres, Redis and NATS connectivity")
	fmt.Fprintln(os.Stderr, "  sync      Fetch the dblp dump when it changed and dispatch new revisions")
	fmt.Fprintln(os.Stderr, "  parse     Run the ingest pipeline over local grammar and dump files")
	fmt.Fprintln(os.Stderr, "  work      Run the record, author and enrichment writers")
	fmt.Fprintln(os.Stderr, "  validate  Validate work message JSON files against the v1 schemas")
	fmt.Fprintln(os.Stderr, "  serve     Start the ops API (health, stats, runs, metrics)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"conch <command> -h\" for command-specific flags.")
}
