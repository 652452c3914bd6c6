package tasks

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"stageci/internal/core"
)

var (
	// rustc / clippy headline: "warning: unused variable" or
	// "error[E0308]: mismatched types" or "warning[clippy::x]: ...".
	headlinePattern = regexp.MustCompile(`^(warning|error)(\[[^\]]+\])?: (.+)$`)

	// rustc location line following a headline: "  --> src/lib.rs:3:9".
	arrowPattern = regexp.MustCompile(`^\s*--> (.+):(\d+):(\d+)$`)

	// go vet, golangci-lint, gcc: "path/file.go:12:5: message".
	locationPattern = regexp.MustCompile(`^([^\s:][^:]*):(\d+):(\d+): (.+)$`)

	// summary lines that repeat what the individual diagnostics said,
	// including cargo's per-target "`demo` (lib) generated 2 warnings".
	summaryPattern = regexp.MustCompile("^(\\d+ warnings? emitted|aborting due to|could not compile|build failed|Some errors have detailed explanations|For more information about|`[^`]+` \\(.*\\) generated \\d+ warnings?)")
)

// maxLineSize bounds a single output line. Longer lines end parsing with
// bufio.ErrTooLong.
const maxLineSize = 1024 * 1024

// ParseDiagnostics extracts warnings and errors from compiler and linter
// output. Lines that carry no diagnostic are ignored. A read error is
// returned with the annotations found before it.
func ParseDiagnostics(output string) ([]core.Annotation, error) {
	var annotations []core.Annotation
	pending := -1 // index of a headline still waiting for its location

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := headlinePattern.FindStringSubmatch(line); m != nil {
			pending = -1
			if summaryPattern.MatchString(m[3]) {
				continue
			}
			annotations = append(annotations, core.Annotation{Level: m[1], Message: m[3]})
			pending = len(annotations) - 1
			continue
		}

		if m := arrowPattern.FindStringSubmatch(line); m != nil {
			if pending >= 0 {
				a := &annotations[pending]
				a.File = m[1]
				a.Line, _ = strconv.Atoi(m[2])
				a.Column, _ = strconv.Atoi(m[3])
				pending = -1
			}
			continue
		}

		if m := locationPattern.FindStringSubmatch(line); m != nil {
			pending = -1
			level, message := "warning", m[4]
			switch {
			case strings.HasPrefix(message, "error: "):
				level, message = "error", strings.TrimPrefix(message, "error: ")
			case strings.HasPrefix(message, "warning: "):
				message = strings.TrimPrefix(message, "warning: ")
			}
			lineNo, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			annotations = append(annotations, core.Annotation{
				Level:   level,
				File:    m[1],
				Line:    lineNo,
				Column:  col,
				Message: message,
			})
		}
	}
	return annotations, scanner.Err()
}

// countLevels returns the number of warnings and errors.
func countLevels(annotations []core.Annotation) (warnings, errors int) {
	for _, a := range annotations {
		if a.Level == "error" {
			errors++
		} else {
			warnings++
		}
	}
	return warnings, errors
}
