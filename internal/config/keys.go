package config

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ValueType is the type of a config value as the CLI reads it.
type ValueType string

const (
	TypeString   ValueType = "string"
	TypeInt      ValueType = "int"
	TypeBool     ValueType = "bool"
	TypeDuration ValueType = "duration"
)

// Key describes one settable leaf of Config, addressed by its dotted path.
type Key struct {
	Name   string
	Type   ValueType
	Secret bool
}

var durationType = reflect.TypeOf(Duration(0))

var schema = sync.OnceValue(func() map[string]Key {
	keys := make(map[string]Key)
	collectKeys("", reflect.TypeOf(Config{}), keys)
	return keys
})

// collectKeys walks the json tags of t. Fields tagged secret:"true" are
// masked when listed.
func collectKeys(prefix string, t reflect.Type, out map[string]Key) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		key := Key{Name: name, Secret: f.Tag.Get("secret") == "true"}
		switch {
		case f.Type == durationType:
			key.Type = TypeDuration
		case f.Type.Kind() == reflect.Struct:
			collectKeys(name, f.Type, out)
			continue
		case f.Type.Kind() == reflect.String:
			key.Type = TypeString
		case f.Type.Kind() == reflect.Bool:
			key.Type = TypeBool
		case f.Type.Kind() >= reflect.Int && f.Type.Kind() <= reflect.Int64:
			key.Type = TypeInt
		default:
			continue
		}
		out[name] = key
	}
}

// Keys returns every settable key, sorted by name.
func Keys() []Key {
	m := schema()
	out := make([]Key, 0, len(m))
	for _, k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupKey returns the key named name.
func LookupKey(name string) (Key, bool) {
	k, ok := schema()[name]
	return k, ok
}

func IsSecretKey(name string) bool {
	k, ok := LookupKey(name)
	return ok && k.Secret
}

// Parse converts a command-line value to the form stored in the file.
// Durations stay strings ("90s"); bare numbers are kept as seconds.
func (k Key) Parse(value string) (any, error) {
	switch k.Type {
	case TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s wants an integer, got %q", k.Name, value)
		}
		return n, nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s wants true or false, got %q", k.Name, value)
		}
		return b, nil
	case TypeDuration:
		value = strings.TrimSpace(value)
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return secs, nil
		}
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s wants a duration such as 90s, got %q", k.Name, value)
		}
		return value, nil
	default:
		return value, nil
	}
}

// Mask hides a secret. Values of 12 or more characters keep their last
// four so two secrets can be told apart.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	r := []rune(value)
	if len(r) < 12 {
		return "****"
	}
	return "****" + string(r[len(r)-4:])
}

// flattenMap maps dotted paths to the leaves of a decoded config document.
func flattenMap(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenMap(path, child, out)
			continue
		}
		out[path] = v
	}
}

// setPath stores v at a dotted path inside doc, creating sections as needed.
func setPath(doc map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok {
			section := make(map[string]any)
			cur[part] = section
			cur = section
			continue
		}
		section, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is a value, not a section", strings.Join(parts[:i+1], "."))
		}
		cur = section
	}
	cur[parts[len(parts)-1]] = v
	return nil
}
