// Command stageci runs, validates and inspects pipelines locally, and
// talks to a stageci server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const usage = `usage: stageci <command> [flags] [args]

commands:
  run       run a workflow's jobs in isolated working copies
  validate  check workflow definitions
  watch     re-validate workflow definitions whenever they change
  submit    register a workflow with a stageci server
  ledger    inspect or verify a run ledger
`

// exitError carries a process exit code without printing anything.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "run":
		err = runCommand(args)
	case "validate":
		err = validateCommand(args)
	case "watch":
		err = watchCommand(args)
	case "submit":
		err = submitCommand(args)
	case "ledger":
		err = ledgerCommand(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "stageci: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "stageci: %v\n", err)
		os.Exit(1)
	}
}
