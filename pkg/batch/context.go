package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

// ExecutionContext holds the restart state of a step as string keys and
// scalar values. It is owned by one step and not safe for concurrent use.
//
// Values survive a JSON round trip: integer getters accept the float64 and
// json.Number forms decoding produces.
type ExecutionContext struct {
	values map[string]any
}

// NewExecutionContext returns an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]any)}
}

// Put stores value under key. Values should be strings, bools or numbers.
func (c *ExecutionContext) Put(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// ContainsKey reports whether key is set.
func (c *ExecutionContext) ContainsKey(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Remove deletes key.
func (c *ExecutionContext) Remove(key string) {
	delete(c.values, key)
}

// Get returns the raw value under key.
func (c *ExecutionContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetInt64 returns the integer under key. ok is false when the key is
// missing or does not hold an integer.
func (c *ExecutionContext) GetInt64(key string) (int64, bool) {
	v, ok := c.values[key]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// GetInt is GetInt64 narrowed to int.
func (c *ExecutionContext) GetInt(key string) (int, bool) {
	n, ok := c.GetInt64(key)
	if !ok || n < math.MinInt || n > math.MaxInt {
		return 0, false
	}
	return int(n), true
}

// GetString returns the string under key.
func (c *ExecutionContext) GetString(key string) (string, bool) {
	s, ok := c.values[key].(string)
	return s, ok
}

// Keys returns the keys in sorted order.
func (c *ExecutionContext) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Len returns the number of keys.
func (c *ExecutionContext) Len() int {
	return len(c.values)
}

// Clone returns a copy. Values are scalars, so a shallow copy suffices.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return NewExecutionContext()
	}
	return &ExecutionContext{values: maps.Clone(c.values)}
}

// MarshalJSON encodes the context as a JSON object.
func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	if c == nil || c.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.values)
}

// UnmarshalJSON decodes a JSON object, keeping numbers as json.Number so
// 64-bit marks do not lose precision.
func (c *ExecutionContext) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	values := make(map[string]any)
	if err := dec.Decode(&values); err != nil {
		return fmt.Errorf("decode execution context: %w", err)
	}
	c.values = values
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
