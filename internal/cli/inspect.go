package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/pkg/humanfmt"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/spf13/cobra"
)

type inspectFlags struct {
	format string
}

func newInspectCommand(g *globalFlags) *cobra.Command {
	f := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect <location>",
		Short: "Print record and sync mark counts of a seq or parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("inspect requires <location>")
			}
			return runInspect(cmd, g, f, args[0])
		},
	}
	cmd.Flags().StringVar(&f.format, "format", formatSeq, "file format: seq or parquet")
	return cmd
}

// inspectResult summarizes one file.
type inspectResult struct {
	Path    string
	Size    int64
	Records int64
	Bytes   int64
	// Marks is the number of distinct sync marks crossed while reading.
	Marks int
}

func runInspect(cmd *cobra.Command, g *globalFlags, f *inspectFlags, location string) error {
	ctx := cmd.Context()
	if f.format != formatSeq && f.format != formatParquet {
		return fmt.Errorf("--format must be %s or %s, got %q", formatSeq, formatParquet, f.format)
	}
	format, err := newFormat(f.format, formatOptions{})
	if err != nil {
		return err
	}
	loader, cleanup, err := g.loader(ctx, false, location)
	if err != nil {
		return err
	}
	defer cleanup()

	path := serde.Location(format, location)
	res, err := loader.Resource(path)
	if err != nil {
		return err
	}
	size, err := res.Size(ctx)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	reader, err := format.NewReader(ctx, loader, path)
	if err != nil {
		return err
	}
	defer reader.Close()

	result := inspectResult{Path: path, Size: size}
	marks := reader.Marks()
	last := marks.LastMark()
	for {
		rec, err := reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d of %s: %w", result.Records, path, err)
		}
		result.Records++
		result.Bytes += int64(len(rec))
		if m := marks.LastMark(); m != last {
			result.Marks++
			last = m
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "path:    %s\n", result.Path)
	fmt.Fprintf(out, "size:    %s\n", humanfmt.Bytes(result.Size))
	fmt.Fprintf(out, "records: %d\n", result.Records)
	fmt.Fprintf(out, "payload: %s\n", humanfmt.Bytes(result.Bytes))
	fmt.Fprintf(out, "marks:   %d\n", result.Marks)
	return nil
}
