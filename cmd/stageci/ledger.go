package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"stageci/internal/ledger"
)

func ledgerCommand(args []string) error {
	fs := pflag.NewFlagSet("ledger", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stageci ledger <inspect|verify> <ledger.jsonl>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitError{code: 2}
	}

	path := fs.Arg(1)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	// Inspection and verification never append, so no keys are needed.
	l, err := ledger.Open(path, nil)
	if err != nil {
		return err
	}

	switch fs.Arg(0) {
	case "inspect":
		for _, e := range l.Entries() {
			hash := e.Hash
			if len(hash) > 16 {
				hash = hash[:16]
			}
			fmt.Printf("%4d %s %-7s run=%s pipeline=%s step=%d(%s) status=%s hash=%s\n",
				e.Index, e.Timestamp, e.Kind, e.RunID, e.Pipeline, e.StepIndex, e.Step, e.Status, hash)
		}
	case "verify":
		if err := l.Verify(); err != nil {
			fmt.Printf("FAIL ledger verification: %v\n", err)
			return exitError{code: exitFailure}
		}
		fmt.Printf("ok   %d entries verified\n", l.Len())
	default:
		fs.Usage()
		return exitError{code: 2}
	}
	return nil
}
