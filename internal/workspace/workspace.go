// Package workspace provisions an isolated working copy of the source tree
// for each run. Runs never share a directory: each Provision call copies
// the source into a fresh directory that Release removes.
package workspace

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Provider creates working copies of Source under Root.
type Provider struct {
	Source string // checked-out source tree; empty means start from an empty directory
	Root   string // parent of per-run directories; empty means os.TempDir()
}

func NewProvider(source, root string) *Provider {
	return &Provider{Source: source, Root: root}
}

// Copy is one run's working copy.
type Copy struct {
	dir string
}

// Dir is the working copy root.
func (c *Copy) Dir() string { return c.dir }

// Release removes the working copy. Safe to call more than once.
func (c *Copy) Release() error {
	if c == nil || c.dir == "" {
		return nil
	}
	err := os.RemoveAll(c.dir)
	c.dir = ""
	return err
}

// Provision creates a fresh working copy for runID.
func (p *Provider) Provision(ctx context.Context, runID string) (*Copy, error) {
	root := p.Root
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "run-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating working copy: %w", err)
	}

	c := &Copy{dir: dir}
	if p.Source == "" {
		return c, nil
	}
	if err := copyTree(ctx, p.Source, dir); err != nil {
		_ = c.Release()
		return nil, fmt.Errorf("copying %s: %w", p.Source, err)
	}
	return c, nil
}

func copyTree(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// sockets, devices and fifos have no place in a source tree
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Fingerprint hashes a tree with BLAKE3 over its sorted relative paths,
// symlink targets and file contents. .git directories are skipped. Two
// trees with the same fingerprint give reproducible runs under the same
// toolchain.
func Fingerprint(dir string) (string, error) {
	h := blake3.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(h, "L %s\x00%s\x00", filepath.ToSlash(rel), link)
		case d.Type().IsRegular():
			fmt.Fprintf(h, "F %s\x00", filepath.ToSlash(rel))
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(h, f)
			f.Close()
			if err != nil {
				return err
			}
			h.Write([]byte{0})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
