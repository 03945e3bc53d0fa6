// Package fsys defines the resource abstraction batch readers and writers
// work against: named resources that can be opened for seekable reads or
// created as output streams, plus glob listing.
//
// Local paths are served by Local. HDFS and S3 live in the hdfsfs and s3fs
// subpackages and are combined with Local through a Mux keyed on the URI
// scheme.
package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
)

var (
	// ErrNotExist is returned when a resource does not exist. It is fs.ErrNotExist
	// so os-level errors match it as well.
	ErrNotExist = fs.ErrNotExist
	// ErrUnsupportedScheme is returned for a URI scheme no loader handles.
	ErrUnsupportedScheme = errors.New("unsupported resource scheme")
)

// InputStream is a seekable, random-access read handle.
type InputStream interface {
	io.ReadSeekCloser
	io.ReaderAt
}

// OutputStream is a write handle to a resource.
type OutputStream interface {
	io.WriteCloser
}

// SyncWriter is an output stream that can push written bytes to the
// underlying storage before close (fsync locally, hflush on HDFS).
type SyncWriter interface {
	OutputStream
	Sync() error
}

// Aborter is an output stream that can be discarded instead of committed.
// Abort releases the stream like Close but leaves no resource behind.
type Aborter interface {
	Abort() error
}

// Abort discards out when it is an Aborter and closes it otherwise.
func Abort(out OutputStream) error {
	if a, ok := out.(Aborter); ok {
		return a.Abort()
	}
	return out.Close()
}

// Resource is a single named location.
type Resource interface {
	// Path is the full location including any scheme.
	Path() string
	// Filename is the last path element.
	Filename() string
	Exists(ctx context.Context) (bool, error)
	Size(ctx context.Context) (int64, error)
	Open(ctx context.Context) (InputStream, error)
	// Create truncates or creates the resource.
	Create(ctx context.Context) (OutputStream, error)
}

// Loader resolves paths and glob patterns to resources.
type Loader interface {
	Resource(path string) (Resource, error)
	// Resources returns the resources matching pattern sorted by path.
	// No match is not an error.
	Resources(ctx context.Context, pattern string) ([]Resource, error)
}

// SplitScheme splits "scheme://rest" into its parts. Paths without a scheme
// return an empty scheme and the path unchanged.
func SplitScheme(path string) (scheme, rest string) {
	i := strings.Index(path, "://")
	if i <= 0 {
		return "", path
	}
	return strings.ToLower(path[:i]), path[i+3:]
}

// AppendExtension appends ext to path unless path already ends with it,
// compared case-insensitively. ext may be given with or without the dot.
func AppendExtension(path, ext string) string {
	ext = NormalizeExtension(ext)
	if ext == "" {
		return path
	}
	if strings.HasSuffix(strings.ToLower(path), strings.ToLower(ext)) {
		return path
	}
	return path + ext
}

// NormalizeExtension makes sure a non-empty extension starts with a dot.
func NormalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// LiteralPrefix returns the part of a glob pattern before its first
// meta character.
func LiteralPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// HasMeta reports whether pattern contains glob meta characters.
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}

// Mux dispatches to a loader based on the path scheme. Paths without a
// scheme, and "file://" paths, go to the local loader.
type Mux struct {
	local   Loader
	schemes map[string]Loader
}

// NewMux creates a mux with the given local loader.
func NewMux(local Loader) *Mux {
	return &Mux{local: local, schemes: make(map[string]Loader)}
}

// Handle registers loader for scheme and returns the mux.
func (m *Mux) Handle(scheme string, loader Loader) *Mux {
	m.schemes[strings.ToLower(scheme)] = loader
	return m
}

// Resource implements Loader.
func (m *Mux) Resource(path string) (Resource, error) {
	l, err := m.loader(path)
	if err != nil {
		return nil, err
	}
	return l.Resource(path)
}

// Resources implements Loader.
func (m *Mux) Resources(ctx context.Context, pattern string) ([]Resource, error) {
	l, err := m.loader(pattern)
	if err != nil {
		return nil, err
	}
	return l.Resources(ctx, pattern)
}

func (m *Mux) loader(path string) (Loader, error) {
	scheme, _ := SplitScheme(path)
	if scheme == "" || scheme == "file" {
		if m.local == nil {
			return nil, fmt.Errorf("%w: no local loader for %q", ErrUnsupportedScheme, path)
		}
		return m.local, nil
	}
	l, ok := m.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return l, nil
}
