package tasks

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"stageci/internal/core"
)

func TestRegistryResolve(t *testing.T) {
	r := DefaultRegistry(nil)
	require.Equal(t, []string{"checkout", "lint-annotations", "setup-toolchain"}, r.Names())

	for uses, want := range map[string]string{
		"checkout":                         "checkout",
		"actions/checkout@v4":              "checkout",
		"actions-rs/toolchain@v1":          "setup-toolchain",
		"actions-rs/clippy-check@v1":       "lint-annotations",
		"golangci/golangci-lint-action@v6": "lint-annotations",
	} {
		adapter, err := r.Resolve(uses)
		require.NoError(t, err, uses)
		require.Equal(t, want, adapter.Name(), uses)
	}

	_, err := r.Resolve("someone/unknown@v1")
	require.ErrorIs(t, err, core.ErrUnknownTask)
	require.Contains(t, err.Error(), `"someone/unknown@v1"`)
}

func TestFormatWorkflowCommand(t *testing.T) {
	ann := core.Annotation{Level: "warning", File: "src/lib.rs", Line: 3, Column: 9, Message: "unused: x\nsecond line 100%"}
	require.Equal(t,
		"::warning title=Static analysis%3A clippy,file=src/lib.rs,line=3,col=9::unused: x%0Asecond line 100%25",
		FormatWorkflowCommand("Static analysis: clippy", ann))
	require.Equal(t, "::error title=Build::boom", FormatWorkflowCommand("Build", core.Annotation{Level: "error", Message: "boom"}))
}

type failingAnnotator struct{}

func (failingAnnotator) Publish(context.Context, string, []core.Annotation) error {
	return errors.New("rejected")
}

func TestAnnotatorsFanOut(t *testing.T) {
	var buf bytes.Buffer
	wc := &WorkflowCommandAnnotator{W: &buf}
	err := Annotators{wc, failingAnnotator{}, LogAnnotator{}}.Publish(context.Background(), "Lint",
		[]core.Annotation{{Level: "warning", Message: "m"}})
	require.EqualError(t, err, "rejected")
	require.Equal(t, "::warning title=Lint::m\n", buf.String())
}
