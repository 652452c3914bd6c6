package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"stageci/internal/core"
	"stageci/internal/tasks"
)

func watchCommand(args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stageci watch <workflow>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitError{code: 2}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the parent directories.
	watched := make(map[string]bool)
	for _, path := range fs.Args() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
	}

	resolver := tasks.DefaultRegistry(nil)
	for path := range watched {
		validateFile(path, resolver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[ev.Name] || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			validateFile(ev.Name, resolver)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func validateFile(path string, resolver core.TaskResolver) {
	def, err := core.LoadDefinition(path, resolver)
	if err != nil {
		fmt.Printf("FAIL %s\n%v\n", path, err)
		return
	}
	fmt.Printf("ok   %s (%d jobs)\n", def.Name, len(def.Pipelines))
}
