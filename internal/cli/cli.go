// Package cli implements the command-line interface for batchio.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/fsys/hdfsfs"
	"github.com/eunmann/batchio/pkg/fsys/s3fs"
	"github.com/eunmann/batchio/pkg/logging"
	"github.com/spf13/cobra"
)

const usage = "usage: batchio <command> [flags]\ncommands: copy, inspect"

// globalFlags are shared by every command.
type globalFlags struct {
	debug bool
	human bool

	hdfsNamenodes []string
	hdfsUser      string

	s3Region    string
	s3Endpoint  string
	s3PathStyle bool
	s3TempDir   string
}

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	return RunContext(context.Background(), args, os.Stdout)
}

// RunContext is Run with an explicit context and output writer.
func RunContext(ctx context.Context, args []string, out io.Writer) error {
	if args == nil {
		args = []string{}
	}
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(io.Discard)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "batchio",
		Short:         "Restartable record copies between formats and stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New(usage)
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Init(g.debug, g.human)
			cmd.SetContext(logctx.WithLogger(cmd.Context(), logging.WithComponent("cli")))
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&g.human, "human", false, "human-readable console logs instead of JSON")
	pf.StringSliceVar(&g.hdfsNamenodes, "hdfs-namenode", nil, "HDFS namenode host:port (repeatable)")
	pf.StringVar(&g.hdfsUser, "hdfs-user", "", "HDFS user (default $HADOOP_USER_NAME, then $USER)")
	pf.StringVar(&g.s3Region, "s3-region", "", "AWS region override")
	pf.StringVar(&g.s3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO, localstack)")
	pf.BoolVar(&g.s3PathStyle, "s3-path-style", false, "use path-style S3 addressing")
	pf.StringVar(&g.s3TempDir, "s3-temp-dir", "", "directory for spooled S3 uploads")

	root.AddCommand(newCopyCommand(g), newInspectCommand(g))
	return root
}

// loader builds a Mux serving local paths plus the remote schemes that
// paths use. spool makes S3 output streams syncable.
func (g *globalFlags) loader(ctx context.Context, spool bool, paths ...string) (fsys.Loader, func(), error) {
	mux := fsys.NewMux(fsys.NewLocal())
	cleanup := func() {}

	schemes := make(map[string]bool)
	for _, p := range paths {
		scheme, _ := fsys.SplitScheme(p)
		schemes[scheme] = true
	}

	if schemes["hdfs"] {
		if len(g.hdfsNamenodes) == 0 {
			return nil, nil, errors.New("--hdfs-namenode is required for hdfs:// paths")
		}
		client, err := hdfsfs.New(hdfsfs.Config{Addresses: g.hdfsNamenodes, User: g.hdfsUser})
		if err != nil {
			return nil, nil, err
		}
		mux.Handle("hdfs", client)
		cleanup = func() { client.Close() }
	}

	if schemes["s3"] {
		cfg := s3fs.DefaultConfig()
		cfg.Region = g.s3Region
		cfg.Endpoint = g.s3Endpoint
		cfg.PathStyle = g.s3PathStyle
		cfg.Spool = spool
		cfg.TempDir = g.s3TempDir
		client, err := s3fs.New(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		mux.Handle("s3", client)
	}

	for scheme := range schemes {
		switch scheme {
		case "", "file", "hdfs", "s3":
		default:
			cleanup()
			return nil, nil, fmt.Errorf("%w: %s", fsys.ErrUnsupportedScheme, strings.ToLower(scheme))
		}
	}
	return mux, cleanup, nil
}
