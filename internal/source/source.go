// Package source fetches raw transcript documents by URI.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrFetch covers unreachable object stores, missing keys and malformed URIs.
var ErrFetch = errors.New("fetch failed")

type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Router dispatches on the URI scheme. URIs without a scheme are local paths.
type Router struct {
	fetchers map[string]Fetcher
}

// NewRouter returns a router with no schemes. Local files are only readable
// after RegisterLocal.
func NewRouter() *Router {
	return &Router{fetchers: make(map[string]Fetcher)}
}

func (r *Router) Register(scheme string, f Fetcher) {
	r.fetchers[strings.ToLower(scheme)] = f
}

// RegisterLocal serves file:// URIs and bare paths from f.
func (r *Router) RegisterLocal(f *FileFetcher) {
	r.Register("file", f)
	r.Register("", f)
}

func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	scheme := ""
	if i := strings.Index(uri, "://"); i > 0 {
		scheme = strings.ToLower(uri[:i])
	}
	f, ok := r.fetchers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrFetch, scheme, uri)
	}
	return f.Fetch(ctx, uri)
}

// ParseS3URI splits s3://bucket/path/to/key into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: parse %q: %w", ErrFetch, uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: %q is not an s3 uri", ErrFetch, uri)
	}
	bucket = u.Host
	key = strings.TrimLeft(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs both bucket and key", ErrFetch, uri)
	}
	return bucket, key, nil
}

// FileFetcher reads local files below a root directory.
type FileFetcher struct {
	root string
}

func NewFileFetcher(root string) (*FileFetcher, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local source root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local source root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve local source root: %w", err)
	}
	return &FileFetcher{root: resolved}, nil
}

func (f *FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	path, err := f.resolve(strings.TrimPrefix(uri, "file://"))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not readable", ErrFetch, uri)
	}
	return data, nil
}

// resolve follows symlinks before the root check so a link cannot escape it.
// Missing and out-of-root paths get the same error.
func (f *FileFetcher) resolve(path string) (string, error) {
	notAllowed := fmt.Errorf("%w: %s is not readable", ErrFetch, path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", notAllowed
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", notAllowed
	}
	rel, err := filepath.Rel(f.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", notAllowed
	}
	return resolved, nil
}
