package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = request rejected (KO, not found)
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "migrate":
		return runMigrateCmd(args[2:], stdout, stderr)
	case "import":
		return runImportCmd(args[2:], stdout, stderr)
	case "update":
		return runUpdateCmd(args[2:], stdout, stderr)
	case "get":
		return runGetCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  funcadmin <command> [flags] [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "migrate", "Create the store, counter and logbook tables")
	printCommand(w, "import", "-tenant N <collection> <contracts.json>")
	printCommand(w, "update", "-tenant N <collection> <identifier> <patch.json>")
	printCommand(w, "get", "-tenant N <collection> <identifier>")
	printCommand(w, "list", "-tenant N [-filter expr] [-limit N] [-offset N] <collection>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Collections: AccessContract, IngestContract, ManagementContract")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
