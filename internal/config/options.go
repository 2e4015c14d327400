package config

import (
	"encoding/json"
	"strconv"
	"time"
)

// Options holds backend settings whose shape depends on the store or metrics
// kind, e.g. {"max_conns": 8} for postgres or {"in_memory": true} for badger.
// Getters never fail: a missing key or a value of the wrong type yields the
// default.
type Options map[string]any

// String returns a string option.
func (o Options) String(key, def string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return def
}

// Bool returns a boolean option.
func (o Options) Bool(key string, def bool) bool {
	if b, ok := o[key].(bool); ok {
		return b
	}
	return def
}

// Int returns an integer option. JSON numbers arrive as float64 and YAML
// ones as int; numeric strings are accepted too.
func (o Options) Int(key string, def int) int {
	switch n := o[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if v, err := strconv.Atoi(n); err == nil {
			return v
		}
	}
	return def
}

// Duration returns a duration option given either as a Go duration string
// ("90s", "5m") or as a number of seconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	if s, ok := o[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		return def
	}
	if n := o.Int(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

// StringSlice returns a list-of-strings option. Non-string items are
// dropped.
func (o Options) StringSlice(key string) []string {
	switch vv := o[key].(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// UnmarshalJSON turns a null object into an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Options{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*o = m
	return nil
}
