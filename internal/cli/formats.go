package cli

import (
	"fmt"
	"strings"

	"github.com/eunmann/batchio/pkg/serde"
	"github.com/eunmann/batchio/pkg/serde/codec"
	"github.com/eunmann/batchio/pkg/serde/columnar"
	"github.com/eunmann/batchio/pkg/serde/container"
	"github.com/eunmann/batchio/pkg/serde/rawcopy"
)

// Format names accepted on the command line.
const (
	formatRaw     = "raw"
	formatSeq     = "seq"
	formatParquet = "parquet"
)

// formatOptions are the knobs the command line exposes per format.
type formatOptions struct {
	compression  string
	blockSize    int
	syncInterval int
	rowGroupRows int
}

var recordSchema = columnar.Schema{
	Name:   "record",
	Fields: []columnar.Field{{Name: "data", Type: columnar.Bytes}},
}

var recordMapper = columnar.Mapper[[]byte]{
	ToRecord: func(b []byte) (columnar.Record, error) {
		return columnar.Record{"data": b}, nil
	},
	FromRecord: func(rec columnar.Record) ([]byte, error) {
		return rec.Bytes("data"), nil
	},
}

// newFormat returns the byte-record format called name.
func newFormat(name string, o formatOptions) (serde.Format[[]byte], error) {
	switch strings.ToLower(name) {
	case formatRaw:
		opts := rawcopy.DefaultOptions().
			WithCompression(o.compression).
			WithBlockSize(o.blockSize)
		f, err := rawcopy.New(opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	case formatSeq:
		opts := container.DefaultOptions().
			WithCompression(o.compression).
			WithSyncInterval(o.syncInterval)
		f, err := container.New(container.ValueOnly[[]byte](codec.Bytes{}), opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	case formatParquet:
		opts := columnar.DefaultOptions().
			WithCompression(o.compression).
			WithRowGroupRows(o.rowGroupRows)
		f, err := columnar.New(recordSchema, recordMapper, opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown format %q: must be %s, %s, or %s", name, formatRaw, formatSeq, formatParquet)
	}
}
