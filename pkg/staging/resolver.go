package staging

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"stagerun/pkg/models"
)

// DefaultHost is the locator host that addresses the submit host.
const DefaultHost = "usercontainer"

// UnresolvedPathError is returned when a reference cannot be resolved.
type UnresolvedPathError struct {
	Side   string // local, remote or name
	Path   string
	Reason string
	Err    error
}

func (e *UnresolvedPathError) Error() string {
	msg := fmt.Sprintf("unresolved %s path %q: %s", e.Side, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnresolvedPathError) Unwrap() error { return e.Err }

// RemoteChecker verifies that a path exists on the target resource.
type RemoteChecker interface {
	Stat(ctx context.Context, path string) error
}

// Resolver turns (local root, name, remote root) triples into FileReferences.
type Resolver struct {
	Host   string
	Remote RemoteChecker // optional
}

// NewResolver creates a resolver whose locators address host.
func NewResolver(host string) *Resolver {
	if host == "" {
		host = DefaultHost
	}
	return &Resolver{Host: host}
}

// WithRemote returns a copy of the resolver that also checks remote roots.
func (r *Resolver) WithRemote(c RemoteChecker) *Resolver {
	cp := *r
	cp.Remote = c
	return &cp
}

// Resolve builds an item-mode reference: localRoot/name is mirrored at
// remoteRoot/name.
func (r *Resolver) Resolve(ctx context.Context, localRoot, name, remoteRoot string) (models.FileReference, error) {
	return r.resolve(ctx, localRoot, name, remoteRoot, ModeItem)
}

// ResolveContents builds a contents-mode reference: entries of localRoot/name
// are merged into remoteRoot/name.
func (r *Resolver) ResolveContents(ctx context.Context, localRoot, name, remoteRoot string) (models.FileReference, error) {
	return r.resolve(ctx, localRoot, name, remoteRoot, ModeContents)
}

func (r *Resolver) resolve(ctx context.Context, localRoot, name, remoteRoot string, mode Mode) (models.FileReference, error) {
	if !filepath.IsAbs(localRoot) {
		return models.FileReference{}, &UnresolvedPathError{Side: "local", Path: localRoot, Reason: "root is not absolute"}
	}
	if !path.IsAbs(remoteRoot) {
		return models.FileReference{}, &UnresolvedPathError{Side: "remote", Path: remoteRoot, Reason: "root is not absolute"}
	}
	if err := checkName(name); err != nil {
		return models.FileReference{}, err
	}

	info, err := os.Stat(localRoot)
	if err != nil {
		return models.FileReference{}, &UnresolvedPathError{Side: "local", Path: localRoot, Reason: "root does not exist", Err: err}
	}
	if !info.IsDir() {
		return models.FileReference{}, &UnresolvedPathError{Side: "local", Path: localRoot, Reason: "root is not a directory"}
	}
	if r.Remote != nil {
		if err := r.Remote.Stat(ctx, remoteRoot); err != nil {
			return models.FileReference{}, &UnresolvedPathError{Side: "remote", Path: remoteRoot, Reason: "root does not exist", Err: err}
		}
	}

	loc := Locator{
		Host: r.Host,
		Path: filepath.ToSlash(filepath.Join(localRoot, name)),
		Mode: mode,
	}
	return models.FileReference{
		Source:      loc.String(),
		Destination: path.Join(remoteRoot, filepath.ToSlash(name)),
	}, nil
}

func checkName(name string) error {
	if name == "" {
		return &UnresolvedPathError{Side: "name", Path: name, Reason: "name is empty"}
	}
	if filepath.IsAbs(name) {
		return &UnresolvedPathError{Side: "name", Path: name, Reason: "name must be relative"}
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &UnresolvedPathError{Side: "name", Path: name, Reason: "name escapes its root"}
	}
	return nil
}
