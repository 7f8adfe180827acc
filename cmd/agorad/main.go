// Command agorad runs the coordination node and its operator tooling:
//
//	agorad serve            run the node (default)
//	agorad keygen           generate an Ed25519 identity
//	agorad export           export a job's audit bundle from the database
//	agorad verify           replay-verify an audit bundle offline
//	agorad health           probe a running node
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands. Exit codes: 0 success, 1 failed verification
// or unhealthy target, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stderr)
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "health":
		return runHealth(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: agorad <command> [flags]

Commands:
  serve    run the coordination node (default)
  keygen   generate an Ed25519 agent identity
  export   export a job's audit bundle from the node database
  verify   replay-verify an audit bundle offline
  health   probe a running node's health endpoint`)
}
