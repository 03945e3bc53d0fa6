package columnar

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Record holds field values by name. Values are string, int64, float64,
// bool or []byte; repeated fields hold slices of those. Absent optional
// fields and empty repeated fields are left out.
type Record map[string]any

// Mapper converts between items and records.
type Mapper[T any] struct {
	ToRecord   func(T) (Record, error)
	FromRecord func(Record) (T, error)
}

// String returns the named string field, or "" when absent.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Int64 returns the named int64 field, or 0 when absent.
func (r Record) Int64(name string) int64 {
	n, _ := r[name].(int64)
	return n
}

// Float64 returns the named float64 field and whether it is set.
func (r Record) Float64(name string) (float64, bool) {
	f, ok := r[name].(float64)
	return f, ok
}

// Bool returns the named bool field, or false when absent.
func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// Bytes returns the named bytes field, or nil when absent.
func (r Record) Bytes(name string) []byte {
	b, _ := r[name].([]byte)
	return b
}

// Strings returns the named repeated string field.
func (r Record) Strings(name string) []string {
	s, _ := r[name].([]string)
	return s
}

// Int64s returns the named repeated int64 field.
func (r Record) Int64s(name string) []int64 {
	s, _ := r[name].([]int64)
	return s
}

// encodeRow appends the values of rec to row in column order with explicit
// repetition and definition levels:
//
//	required:  (0, 0)
//	optional:  null (0, 0), present (0, 1)
//	repeated:  empty (0, 0) null, first (0, 1), rest (1, 1)
func encodeRow(row parquet.Row, cols []column, rec Record) (parquet.Row, error) {
	for _, c := range cols {
		v, present := rec[c.Name]
		if present && v == nil {
			present = false
		}

		switch {
		case c.Repeated:
			elems, err := elements(c, v)
			if err != nil {
				return nil, err
			}
			if len(elems) == 0 {
				row = append(row, parquet.NullValue().Level(0, 0, c.index))
				continue
			}
			for i, e := range elems {
				rep := 0
				if i > 0 {
					rep = 1
				}
				row = append(row, e.Level(rep, 1, c.index))
			}

		case c.Optional:
			if !present {
				row = append(row, parquet.NullValue().Level(0, 0, c.index))
				continue
			}
			pv, err := toValue(c.Field, v)
			if err != nil {
				return nil, err
			}
			row = append(row, pv.Level(0, 1, c.index))

		default:
			if !present {
				return nil, fmt.Errorf("required field %q is missing", c.Name)
			}
			pv, err := toValue(c.Field, v)
			if err != nil {
				return nil, err
			}
			row = append(row, pv.Level(0, 0, c.index))
		}
	}
	return row, nil
}

func toValue(f Field, v any) (parquet.Value, error) {
	switch f.Type {
	case String:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s)), nil
		}
	case Int64:
		switch n := v.(type) {
		case int64:
			return parquet.Int64Value(n), nil
		case int:
			return parquet.Int64Value(int64(n)), nil
		case int32:
			return parquet.Int64Value(int64(n)), nil
		}
	case Float64:
		switch n := v.(type) {
		case float64:
			return parquet.DoubleValue(n), nil
		case float32:
			return parquet.DoubleValue(float64(n)), nil
		}
	case Bool:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case Bytes:
		if b, ok := v.([]byte); ok {
			return parquet.ByteArrayValue(b), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("field %q: cannot store %T as %v", f.Name, v, f.Type)
}

func elements(c column, v any) ([]parquet.Value, error) {
	if v == nil {
		return nil, nil
	}
	var out []parquet.Value
	add := func(e any) error {
		pv, err := toValue(c.Field, e)
		if err != nil {
			return err
		}
		out = append(out, pv)
		return nil
	}

	var err error
	switch s := v.(type) {
	case []string:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	case []int64:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	case []float64:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	case []bool:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	case [][]byte:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	case []any:
		for _, e := range s {
			if err = add(e); err != nil {
				break
			}
		}
	default:
		return nil, fmt.Errorf("field %q: repeated value must be a slice, got %T", c.Name, v)
	}
	return out, err
}

// decodeRow builds a record from a row. Values are copied out of the row.
func decodeRow(row parquet.Row, byIndex map[int]column) Record {
	rec := make(Record, len(byIndex))
	for _, v := range row {
		c, ok := byIndex[v.Column()]
		if !ok || v.IsNull() {
			continue
		}
		val := fromValue(c.Type, v)
		if !c.Repeated {
			rec[c.Name] = val
			continue
		}
		rec[c.Name] = appendElement(rec[c.Name], c.Type, val)
	}
	return rec
}

func fromValue(t Type, v parquet.Value) any {
	switch t {
	case Int64:
		return v.Int64()
	case Float64:
		return v.Double()
	case Bool:
		return v.Boolean()
	case Bytes:
		return bytes.Clone(v.ByteArray())
	default:
		return string(v.ByteArray())
	}
}

func appendElement(cur any, t Type, val any) any {
	switch t {
	case Int64:
		s, _ := cur.([]int64)
		return append(s, val.(int64))
	case Float64:
		s, _ := cur.([]float64)
		return append(s, val.(float64))
	case Bool:
		s, _ := cur.([]bool)
		return append(s, val.(bool))
	case Bytes:
		s, _ := cur.([][]byte)
		return append(s, val.([]byte))
	default:
		s, _ := cur.([]string)
		return append(s, val.(string))
	}
}
