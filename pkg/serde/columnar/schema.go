package columnar

import (
	"errors"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// Type is the type of a field value.
type Type int

const (
	String Type = iota
	Int64
	Float64
	Bool
	Bytes
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Field describes one column. A field is either optional or repeated, not
// both; an empty repeated field is stored as null.
type Field struct {
	Name     string
	Type     Type
	Optional bool
	Repeated bool
}

// Schema is an explicit record description. Callers build it once per
// record type; nothing is derived by reflection.
type Schema struct {
	Name   string
	Fields []Field
}

// Validate checks the schema for empty or duplicate names and invalid types.
func (s Schema) Validate() error {
	if s.Name == "" {
		return errors.New("schema name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field name is required", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		if f.Type < String || f.Type > Bytes {
			return fmt.Errorf("schema %s: field %q has invalid type %v", s.Name, f.Name, f.Type)
		}
		if f.Optional && f.Repeated {
			return fmt.Errorf("schema %s: field %q cannot be both optional and repeated", s.Name, f.Name)
		}
	}
	return nil
}

func (s Schema) parquetSchema() *parquet.Schema {
	group := make(parquet.Group, len(s.Fields))
	for _, f := range s.Fields {
		node := leaf(f.Type)
		switch {
		case f.Optional:
			node = parquet.Optional(node)
		case f.Repeated:
			node = parquet.Repeated(node)
		}
		group[f.Name] = node
	}
	return parquet.NewSchema(s.Name, group)
}

func leaf(t Type) parquet.Node {
	switch t {
	case Int64:
		return parquet.Int(64)
	case Float64:
		return parquet.Leaf(parquet.DoubleType)
	case Bool:
		return parquet.Leaf(parquet.BooleanType)
	case Bytes:
		return parquet.Leaf(parquet.ByteArrayType)
	default:
		return parquet.String()
	}
}

// column binds a field to its leaf column index in a parquet schema.
type column struct {
	Field
	index int
}

// columns resolves the leaf index of every field in ps, ordered by index.
func (s Schema) columns(ps *parquet.Schema) ([]column, error) {
	cols := make([]column, 0, len(s.Fields))
	for _, f := range s.Fields {
		leaf, ok := ps.Lookup(f.Name)
		if !ok {
			return nil, fmt.Errorf("parquet schema %s has no column %q", ps.Name(), f.Name)
		}
		cols = append(cols, column{Field: f, index: leaf.ColumnIndex})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].index < cols[j].index })
	return cols, nil
}
