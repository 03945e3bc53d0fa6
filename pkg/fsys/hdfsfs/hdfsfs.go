// Package hdfsfs serves fsys resources from HDFS.
//
// Paths look like hdfs://namenode:8020/dir/file. The authority selects
// nothing: every path is resolved against the client the loader was built
// with, the authority is kept only in Resource.Path.
package hdfsfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/colinmarc/hdfs/v2"
	"github.com/eunmann/batchio/pkg/fsys"
)

// Config configures the HDFS client.
type Config struct {
	// Addresses are namenode host:port pairs.
	Addresses []string
	// User is the HDFS user. Default: $HADOOP_USER_NAME, then $USER.
	User string
	// UseDatanodeHostname connects to datanodes by hostname instead of IP.
	UseDatanodeHostname bool
}

// Loader is an fsys.Loader backed by an HDFS client.
type Loader struct {
	client *hdfs.Client
	prefix string
}

// New connects to the namenodes in cfg.
func New(cfg Config) (*Loader, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("hdfs: at least one namenode address is required")
	}
	user := cfg.User
	if user == "" {
		user = os.Getenv("HADOOP_USER_NAME")
	}
	if user == "" {
		user = os.Getenv("USER")
	}

	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses:           cfg.Addresses,
		User:                user,
		UseDatanodeHostname: cfg.UseDatanodeHostname,
	})
	if err != nil {
		return nil, fmt.Errorf("connect hdfs %v: %w", cfg.Addresses, err)
	}

	return &Loader{client: client, prefix: "hdfs://" + cfg.Addresses[0]}, nil
}

// Close closes the underlying client.
func (l *Loader) Close() error {
	return l.client.Close()
}

// Resource implements fsys.Loader.
func (l *Loader) Resource(p string) (fsys.Resource, error) {
	name, err := SplitPath(p)
	if err != nil {
		return nil, err
	}
	return &resource{client: l.client, name: name, uri: l.prefix + name}, nil
}

// Resources implements fsys.Loader. Meta characters are only supported in
// the last path element.
func (l *Loader) Resources(_ context.Context, pattern string) ([]fsys.Resource, error) {
	name, err := SplitPath(pattern)
	if err != nil {
		return nil, err
	}
	dir, base := path.Split(name)
	if fsys.HasMeta(dir) {
		return nil, fmt.Errorf("hdfs glob %q: meta characters only supported in the last element", pattern)
	}
	if !fsys.HasMeta(base) {
		r := &resource{client: l.client, name: name, uri: l.prefix + name}
		if _, err := l.client.Stat(name); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		return []fsys.Resource{r}, nil
	}

	infos, err := l.client.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	names, err := MatchNames(base, infos)
	if err != nil {
		return nil, fmt.Errorf("hdfs glob %q: %w", pattern, err)
	}
	out := make([]fsys.Resource, 0, len(names))
	for _, n := range names {
		full := path.Join(dir, n)
		out = append(out, &resource{client: l.client, name: full, uri: l.prefix + full})
	}
	return out, nil
}

// SplitPath returns the absolute HDFS path of an hdfs:// URI or a bare
// absolute path.
func SplitPath(p string) (string, error) {
	scheme, rest := fsys.SplitScheme(p)
	switch scheme {
	case "":
		if !strings.HasPrefix(rest, "/") {
			return "", fmt.Errorf("hdfs path %q must be absolute", p)
		}
		return path.Clean(rest), nil
	case "hdfs":
		i := strings.Index(rest, "/")
		if i < 0 {
			return "/", nil
		}
		return path.Clean(rest[i:]), nil
	default:
		return "", fmt.Errorf("%w: %q", fsys.ErrUnsupportedScheme, scheme)
	}
}

// MatchNames returns the sorted names of regular files in infos matching
// the glob pattern.
func MatchNames(pattern string, infos []os.FileInfo) ([]string, error) {
	var names []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		ok, err := path.Match(pattern, info.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

type resource struct {
	client *hdfs.Client
	name   string
	uri    string
}

func (r *resource) Path() string     { return r.uri }
func (r *resource) Filename() string { return path.Base(r.name) }

func (r *resource) Exists(_ context.Context) (bool, error) {
	_, err := r.client.Stat(r.name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", r.uri, err)
}

func (r *resource) Size(_ context.Context) (int64, error) {
	info, err := r.client.Stat(r.name)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", r.uri, err)
	}
	return info.Size(), nil
}

func (r *resource) Open(_ context.Context) (fsys.InputStream, error) {
	f, err := r.client.Open(r.name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.uri, err)
	}
	return f, nil
}

// Create replaces any existing file. HDFS refuses to create over an
// existing path, so the old file is removed first.
func (r *resource) Create(_ context.Context) (fsys.OutputStream, error) {
	if err := r.client.MkdirAll(path.Dir(r.name), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", path.Dir(r.name), err)
	}
	if err := r.client.Remove(r.name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove %s: %w", r.uri, err)
	}
	w, err := r.client.Create(r.name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", r.uri, err)
	}
	return &output{w: w, client: r.client, name: r.name}, nil
}

// output adapts hdfs.FileWriter to fsys.SyncWriter; Sync is hflush.
type output struct {
	w      *hdfs.FileWriter
	client *hdfs.Client
	name   string
	closed bool
}

func (o *output) Write(p []byte) (int, error) { return o.w.Write(p) }
func (o *output) Sync() error                 { return o.w.Flush() }

func (o *output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.w.Close()
}

// Abort closes the file and deletes it.
func (o *output) Abort() error {
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.w.Close()
	if rerr := o.client.Remove(o.name); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = fmt.Errorf("remove %s: %w", o.name, rerr)
	}
	return err
}
