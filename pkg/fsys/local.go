package fsys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Local serves resources from the local filesystem.
type Local struct{}

// NewLocal creates a local loader.
func NewLocal() *Local {
	return &Local{}
}

// Resource implements Loader. A "file://" prefix is stripped.
func (l *Local) Resource(path string) (Resource, error) {
	_, rest := SplitScheme(path)
	if rest == "" {
		return nil, errors.New("empty local path")
	}
	return &localResource{path: rest}, nil
}

// Resources implements Loader using filepath.Glob.
func (l *Local) Resources(_ context.Context, pattern string) ([]Resource, error) {
	_, rest := SplitScheme(pattern)
	matches, err := filepath.Glob(rest)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(matches)

	out := make([]Resource, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, &localResource{path: m})
	}
	return out, nil
}

type localResource struct {
	path string
}

func (r *localResource) Path() string     { return r.path }
func (r *localResource) Filename() string { return filepath.Base(r.path) }

func (r *localResource) Exists(_ context.Context) (bool, error) {
	_, err := os.Stat(r.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", r.path, err)
}

func (r *localResource) Size(_ context.Context) (int64, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", r.path, err)
	}
	return info.Size(), nil
}

func (r *localResource) Open(_ context.Context) (InputStream, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.path, err)
	}
	return f, nil
}

func (r *localResource) Create(_ context.Context) (OutputStream, error) {
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(r.path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", r.path, err)
	}
	return &localOutput{file: f}, nil
}

// localOutput is a SyncWriter over an *os.File.
type localOutput struct {
	file   *os.File
	closed bool
}

func (o *localOutput) Write(p []byte) (int, error) {
	return o.file.Write(p)
}

// Sync flushes file data to stable storage.
func (o *localOutput) Sync() error {
	if err := datasync(o.file); err != nil {
		return fmt.Errorf("sync %s: %w", o.file.Name(), err)
	}
	return nil
}

func (o *localOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.file.Close()
}

// Abort closes and removes the file.
func (o *localOutput) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.file.Close()
	if rerr := os.Remove(o.file.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = fmt.Errorf("remove %s: %w", o.file.Name(), rerr)
	}
	return err
}
