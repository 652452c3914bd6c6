package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"stageci/internal/core"
)

func submitCommand(args []string) error {
	fs := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "stageci server URL")
	token := fs.String("token", os.Getenv("STAGECI_API_TOKEN"), "server API token (defaults to $STAGECI_API_TOKEN)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stageci submit [flags] <workflow.yml>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitError{code: 2}
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading workflow: %w", err)
	}

	target := strings.TrimRight(*server, "/") + "/workflows?name=" + url.QueryEscape(core.NameFromPath(path))
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-yaml")
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submitting workflow: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("server rejected workflow (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Printf("registered: %s", body)
	return nil
}
