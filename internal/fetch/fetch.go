// Package fetch stages remote rasters into a local cache so the
// compositor can read them like any other file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-billy/v5"

	"github.com/lox/smosaic/internal/log"
	"github.com/lox/smosaic/internal/metrics"
)

var (
	// ErrNotFound is returned when the remote file does not exist.
	ErrNotFound = errors.New("remote file not found")
	// ErrDenied is returned when the server refuses the credentials.
	ErrDenied = errors.New("remote access denied")
)

// Retriever downloads the content of one remote reference.
type Retriever interface {
	Retrieve(ctx context.Context, ref Ref) ([]byte, error)
}

// Resolver maps file references onto local paths, downloading remote ones
// into a cache directory on first use.
type Resolver struct {
	fs         billy.Filesystem
	cacheDir   string
	retrievers map[string]Retriever
	maxElapsed time.Duration
}

// NewResolver returns a resolver caching under cacheDir on fs, with FTP and
// HTTP support.
func NewResolver(fs billy.Filesystem, cacheDir string) *Resolver {
	return &Resolver{
		fs:         fs,
		cacheDir:   cacheDir,
		retrievers: map[string]Retriever{
			"ftp":   FTP{},
			"http":  HTTP{},
			"https": HTTP{},
		},
		maxElapsed: 2 * time.Minute,
	}
}

// Register sets the retriever for a scheme.
func (r *Resolver) Register(scheme string, rt Retriever) {
	r.retrievers[scheme] = rt
}

// SetMaxElapsed bounds the retry time of one download.
func (r *Resolver) SetMaxElapsed(d time.Duration) {
	r.maxElapsed = d
}

// Resolve returns a local path for ref. Local references are returned
// unchanged. Remote files are downloaded with retries, along with their
// .aux.xml sidecar when the server has one.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Local() {
		return parsed.Path, nil
	}

	rt, ok := r.retrievers[parsed.Scheme]
	if !ok {
		return "", fmt.Errorf("reference %s: no retriever for %s", ref, parsed.Scheme)
	}

	local := r.cachePath(parsed)
	if _, err := r.fs.Stat(local); err == nil {
		metrics.FetchTotal.WithLabelValues(parsed.Scheme, "cached").Inc()
		log.Debugw("fetch: cache hit", "ref", parsed.String(), "path", local)
		return local, nil
	}

	var body []byte
	operation := func() error {
		b, err := rt.Retrieve(ctx, parsed)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDenied) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Warnw("fetch: retrying", "ref", parsed.String(), "error", err)
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		metrics.FetchTotal.WithLabelValues(parsed.Scheme, "error").Inc()
		return "", fmt.Errorf("fetch %s: %w", parsed.String(), err)
	}
	if err := r.save(local, body); err != nil {
		return "", err
	}
	metrics.FetchTotal.WithLabelValues(parsed.Scheme, "ok").Inc()
	log.Infow("fetch: staged", "ref", parsed.String(), "path", local, "bytes", len(body))

	// Sidecars are optional; without one the raster is read with default
	// georeferencing and no nodata.
	side, err := rt.Retrieve(ctx, parsed.Sidecar())
	if err != nil {
		log.Debugw("fetch: no sidecar", "ref", parsed.String(), "error", err)
		return local, nil
	}
	if err := r.save(local+".aux.xml", side); err != nil {
		return "", err
	}
	return local, nil
}

// ResolveAll resolves refs in order, stopping at the first failure.
func (r *Resolver) ResolveAll(ctx context.Context, refs []string) ([]string, error) {
	paths := make([]string, len(refs))
	for i, ref := range refs {
		p, err := r.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

func (r *Resolver) cachePath(ref Ref) string {
	host := ref.Host
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return path.Join(r.cacheDir, ref.Scheme, host, path.Clean("/"+ref.Path))
}

// save writes through a temporary file so an interrupted download never
// looks like a cache hit.
func (r *Resolver) save(p string, data []byte) error {
	if err := r.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := p + ".partial"
	f, err := r.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		r.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		r.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, p); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
