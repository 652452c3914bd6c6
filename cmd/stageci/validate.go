package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"stageci/internal/tasks"
)

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	quiet := fs.BoolP("quiet", "q", false, "print nothing on success")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stageci validate [flags] <workflow>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitError{code: 2}
	}

	defs, err := loadDefinitions(fs.Args(), tasks.DefaultRegistry(nil))
	if !*quiet {
		for _, def := range defs {
			fmt.Printf("ok  %s (%d jobs)\n", def.Name, len(def.Pipelines))
		}
	}
	return err
}
