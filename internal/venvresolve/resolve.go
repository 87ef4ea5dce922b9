// Package venvresolve walks a document's ancestor directories looking for a
// Python virtualenv marker, and locates the proxy's startup fallback venv
// (spec.md §4.3). Grounded on original_source/src/venv.rs.
package venvresolve

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/venvmux/venvmux/internal/errs"
)

const (
	venvDirName    = ".venv"
	venvMarkerFile = "pyvenv.cfg"
)

// Resolver finds venvs for documents and caches the repository root lookup,
// which the proxy performs exactly once at startup (spec.md §4.3 Caching).
type Resolver struct {
	statFn      func(path string) bool
	commandFn   func(dir string, name string, args ...string) (string, error)
	repoRoot    string
	repoRootSet bool
}

// New returns a Resolver using the real filesystem and a real subprocess.
func New() *Resolver {
	return &Resolver{
		statFn:    defaultStat,
		commandFn: defaultRunCommand,
	}
}

// NewWithDeps returns a Resolver with injected filesystem/exec hooks, for
// tests.
func NewWithDeps(statFn func(string) bool, commandFn func(string, string, ...string) (string, error)) *Resolver {
	return &Resolver{statFn: statFn, commandFn: commandFn}
}

// Find walks from path's parent toward the filesystem root looking for
// `<dir>/.venv/pyvenv.cfg`, stopping early once the current directory is no
// longer a descendant of rootBoundary (if rootBoundary is non-empty).
// Returns "" if none is found.
func (r *Resolver) Find(path, rootBoundary string) (string, error) {
	dir := filepath.Dir(path)
	for {
		if rootBoundary != "" && !isDescendantOrSelf(dir, rootBoundary) {
			return "", nil
		}

		venvPath := filepath.Join(dir, venvDirName)
		marker := filepath.Join(venvPath, venvMarkerFile)
		if r.statFn(marker) {
			return venvPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// FindFallback returns the venv at the repository root first, otherwise the
// venv at cwd, otherwise "" (spec.md §4.3).
func (r *Resolver) FindFallback(cwd string) (string, error) {
	root, err := r.RepoRoot(cwd)
	if err != nil {
		return "", err
	}

	if root != "" {
		venvPath := filepath.Join(root, venvDirName)
		if r.statFn(filepath.Join(venvPath, venvMarkerFile)) {
			return venvPath, nil
		}
	}

	venvPath := filepath.Join(cwd, venvDirName)
	if r.statFn(filepath.Join(venvPath, venvMarkerFile)) {
		return venvPath, nil
	}

	return "", nil
}

// RepoRoot invokes the source-control root command and caches the result
// for the lifetime of the resolver. Any failure (not a repo, git missing)
// is non-fatal and yields "", nil (spec.md §4.3, §6).
func (r *Resolver) RepoRoot(cwd string) (string, error) {
	if r.repoRootSet {
		return r.repoRoot, nil
	}

	out, err := r.commandFn(cwd, "git", "rev-parse", "--show-toplevel")
	if err != nil {
		r.repoRoot, r.repoRootSet = "", true
		return "", nil
	}

	r.repoRoot = strings.TrimSpace(out)
	r.repoRootSet = true
	return r.repoRoot, nil
}

func isDescendantOrSelf(dir, boundary string) bool {
	rel, err := filepath.Rel(boundary, dir)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

func defaultStat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func defaultRunCommand(dir, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", errs.Wrap(errs.KindResolverIO, err, "running "+name)
	}
	return string(out), nil
}
