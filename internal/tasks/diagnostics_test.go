package tasks

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stageci/internal/core"
)

// cargo clippy output from a crate with one warning and one error.
const clippyOutput = "    Checking demo v0.1.0 (/work/demo)\n" +
	"warning: unused variable: `x`\n" +
	" --> src/main.rs:2:9\n" +
	"  |\n" +
	"2 |     let x = 5;\n" +
	"  |         ^ help: if this is intentional, prefix it with an underscore: `_x`\n" +
	"  |\n" +
	"  = note: `#[warn(unused_variables)]` on by default\n" +
	"\n" +
	"error[E0308]: mismatched types\n" +
	"  --> src/lib.rs:10:5\n" +
	"   |\n" +
	"9  | fn answer() -> u32 {\n" +
	"   |                --- expected `u32` because of return type\n" +
	"10 |     \"42\"\n" +
	"   |     ^^^^ expected `u32`, found `&str`\n" +
	"\n" +
	"For more information about this error, try `rustc --explain E0308`.\n" +
	"warning: `demo` (lib) generated 1 warning\n" +
	"error: could not compile `demo` (lib) due to 1 previous error; 1 warning emitted\n"

// cargo clippy output from a clean build that only warns.
const clippyWarningsOutput = "    Checking demo v0.1.0 (/work/demo)\n" +
	"warning: this `if` has identical blocks\n" +
	" --> src/main.rs:4:5\n" +
	"  |\n" +
	"  = help: for further information visit https://rust-lang.github.io/rust-clippy/master/index.html#if_same_then_else\n" +
	"\n" +
	"warning: `demo` (bin \"demo\") generated 1 warning (run `cargo clippy --fix --bin \"demo\"` to apply 1 suggestion)\n" +
	"warning: `demo` (lib test) generated 2 warnings (1 duplicate)\n" +
	"    Finished `dev` profile [unoptimized + debuginfo] target(s) in 0.21s\n"

func TestParseRustcDiagnostics(t *testing.T) {
	got, err := ParseDiagnostics(clippyOutput)
	require.NoError(t, err)
	require.Equal(t, []core.Annotation{
		{Level: "warning", File: "src/main.rs", Line: 2, Column: 9, Message: "unused variable: `x`"},
		{Level: "error", File: "src/lib.rs", Line: 10, Column: 5, Message: "mismatched types"},
	}, got)

	warnings, errs := countLevels(got)
	require.Equal(t, 1, warnings)
	require.Equal(t, 1, errs)
}

func TestParseSkipsCargoSummaries(t *testing.T) {
	got, err := ParseDiagnostics(clippyWarningsOutput)
	require.NoError(t, err)
	require.Equal(t, []core.Annotation{
		{Level: "warning", File: "src/main.rs", Line: 4, Column: 5, Message: "this `if` has identical blocks"},
	}, got)

	warnings, errs := countLevels(got)
	require.Equal(t, 1, warnings)
	require.Equal(t, 0, errs)
}

func TestParseLocationDiagnostics(t *testing.T) {
	out := "main.go:12:5: ineffectual assignment to err (ineffassign)\n" +
		"pkg/x.go:3:1: error: undefined: y\n" +
		"pkg/y.go:7:2: warning: shadowed variable\n" +
		"ok  \tstageci/internal/core\t0.2s\n"
	got, err := ParseDiagnostics(out)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, core.Annotation{Level: "warning", File: "main.go", Line: 12, Column: 5, Message: "ineffectual assignment to err (ineffassign)"}, got[0])
	require.Equal(t, "error", got[1].Level)
	require.Equal(t, "undefined: y", got[1].Message)
	require.Equal(t, "shadowed variable", got[2].Message)
}

func TestParseCleanOutput(t *testing.T) {
	got, err := ParseDiagnostics("    Finished dev [unoptimized] target(s) in 0.5s\n")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = ParseDiagnostics("")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestParseOverlongLine(t *testing.T) {
	out := "a.go:1:1: warning: first\n" + strings.Repeat("x", maxLineSize+1) + "\nb.go:2:2: warning: second\n"
	got, err := ParseDiagnostics(out)
	require.ErrorIs(t, err, bufio.ErrTooLong)
	require.Len(t, got, 1)
	require.Equal(t, "first", got[0].Message)
}
