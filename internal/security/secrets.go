package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrSecretNotFound is returned by a SecretProvider for an unknown name.
var ErrSecretNotFound = errors.New("secret not found")

const redacted = "[REDACTED]"

var referencePattern = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Secret is an opaque handle to a resolved secret value. Its String and
// LogValue forms never contain the value.
type Secret struct {
	name  string
	value string
}

func NewSecret(name, value string) Secret {
	return Secret{name: name, value: value}
}

func (s Secret) Name() string { return s.name }

// Reveal returns the secret value. Only call it at the point of use.
func (s Secret) Reveal() string { return s.value }

func (s Secret) String() string { return redacted }

func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }

// SecretProvider resolves secret names to values.
type SecretProvider interface {
	Lookup(ctx context.Context, name string) (Secret, error)
}

// EnvProvider reads secrets from environment variables named Prefix+NAME.
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) Lookup(_ context.Context, name string) (Secret, error) {
	value, ok := os.LookupEnv(p.Prefix + name)
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return NewSecret(name, value), nil
}

// FileProvider reads each secret from a file named after it in Dir.
// Surrounding whitespace is trimmed; an empty file is an error.
type FileProvider struct {
	Dir string
}

func (p FileProvider) Lookup(_ context.Context, name string) (Secret, error) {
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return Secret{}, fmt.Errorf("reading secret %s: %w", name, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return Secret{}, fmt.Errorf("secret %s is empty", name)
	}
	return NewSecret(name, value), nil
}

// MapProvider serves secrets from memory.
type MapProvider map[string]string

func (p MapProvider) Lookup(_ context.Context, name string) (Secret, error) {
	value, ok := p[name]
	if !ok {
		return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return NewSecret(name, value), nil
}

// ChainProvider tries each provider in order and returns the first hit.
type ChainProvider []SecretProvider

func (c ChainProvider) Lookup(ctx context.Context, name string) (Secret, error) {
	for _, p := range c {
		s, err := p.Lookup(ctx, name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return Secret{}, err
		}
	}
	return Secret{}, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

// ResolveAll looks up every name. The first failure aborts resolution.
func ResolveAll(ctx context.Context, p SecretProvider, names []string) (map[string]Secret, error) {
	out := make(map[string]Secret, len(names))
	if len(names) == 0 {
		return out, nil
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s (no secret provider configured)", ErrSecretNotFound, names[0])
	}
	for _, name := range names {
		s, err := p.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// References returns the secret names referenced by ${{ secrets.NAME }}
// expressions in s, in order of appearance.
func References(s string) []string {
	var names []string
	for _, m := range referencePattern.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}

// Expand replaces ${{ secrets.NAME }} expressions with resolved values.
// Unresolved references are left untouched.
func Expand(s string, secrets map[string]Secret) string {
	if len(secrets) == 0 {
		return s
	}
	return referencePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := referencePattern.FindStringSubmatch(match)[1]
		if secret, ok := secrets[name]; ok {
			return secret.value
		}
		return match
	})
}

// Redactor masks secret values in captured output.
type Redactor struct {
	replacer *strings.Replacer
}

// NewRedactor builds a redactor for the given secrets. Longer values are
// replaced first so that a secret containing another is fully masked.
func NewRedactor(secrets map[string]Secret) *Redactor {
	values := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s.value != "" {
			values = append(values, s.value)
		}
	}
	if len(values) == 0 {
		return &Redactor{}
	}
	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })

	pairs := make([]string, 0, 2*len(values))
	for _, v := range values {
		pairs = append(pairs, v, redacted)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

func (r *Redactor) Redact(s string) string {
	if r == nil || r.replacer == nil {
		return s
	}
	return r.replacer.Replace(s)
}
