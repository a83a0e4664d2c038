// Command coffer-audit is a tool for viewing and analyzing coffer audit
// trail files.
//
// Audit files are written by cofferd when started with the -audit-log
// flag. Events are CBOR-encoded; this tool decodes, filters, and
// summarizes them.
//
// Usage:
//
//	coffer-audit <command> [flags] <file.audit>
//
// Commands:
//
//	view     View audit trail in human-readable format
//	export   Export audit trail to JSON or CSV format
//	filter   Filter audit trail and write matching events to a new file
//	stats    Show statistics about the audit trail
//
// Examples:
//
//	# View all events
//	coffer-audit view cofferd.audit
//
//	# View only errors
//	coffer-audit view -category error cofferd.audit
//
//	# Events of one session
//	coffer-audit view -session 7f3a cofferd.audit
//
//	# Export to JSONL
//	coffer-audit export -format jsonl cofferd.audit
//
//	# Keep one client's events in a separate file
//	coffer-audit filter -identity backup-host1 -o host1.audit cofferd.audit
//
//	# Show statistics
//	coffer-audit stats cofferd.audit
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/coffer-backup/coffer-go/cmd/coffer-audit/commands"
)

const usage = `coffer-audit - Coffer Audit Trail Analyzer

Usage:
  coffer-audit <command> [flags] <file.audit>

Commands:
  view     View audit trail in human-readable format
  export   Export audit trail to JSON or CSV format
  filter   Filter audit trail and write matching events to a new file
  stats    Show statistics about the audit trail

Use "coffer-audit <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `coffer-audit view - View audit trail in human-readable format

Usage:
  coffer-audit view [flags] <file.audit>

Flags:
`)
		fs.PrintDefaults()
	}

	layer := fs.String("layer", "", "Filter by layer (transport, wire, service)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")
	session := fs.String("session", "", "Filter by session ID prefix")
	identity := fs.String("identity", "", "Filter by verified peer identity")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: audit file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	filter := commands.ViewFilter{
		SessionPrefix: *session,
		Identity:      *identity,
	}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `coffer-audit export - Export audit trail to JSON or CSV format

Usage:
  coffer-audit export [flags] <file.audit>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: audit file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `coffer-audit filter - Filter audit trail and write matching events to a new file

Usage:
  coffer-audit filter [flags] <file.audit>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	session := fs.String("session", "", "Filter by exact session ID")
	identity := fs.String("identity", "", "Filter by verified peer identity")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, service)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: audit file path required")
		fs.Usage()
		os.Exit(1)
	}

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	opts := commands.FilterOptions{
		Output:    *output,
		SessionID: *session,
		Identity:  *identity,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
	}

	if err := commands.RunFilter(path, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `coffer-audit stats - Show statistics about the audit trail

Usage:
  coffer-audit stats <file.audit>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: audit file path required")
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
