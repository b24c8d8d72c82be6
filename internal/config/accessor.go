package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Keys are the json tag names, so "bluebubbles.dmPolicy" addresses
// Config.BlueBubbles.DMPolicy. Keys with omitempty tags are addressable even
// when unset.

// GetByPath returns the value at a dot-notation path. A section path returns
// the whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SetByPath parses value according to the type of the key at path and stores
// it in cfg. Lists accept a JSON array, a comma-separated string, or "null"
// to unset. The result is not validated; call Validate before saving.
func SetByPath(cfg *Config, path, value string) error {
	v, err := lookup(reflect.ValueOf(cfg).Elem(), path)
	if err != nil {
		return err
	}
	if err := assign(v, value); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func lookup(root reflect.Value, path string) (reflect.Value, error) {
	if strings.TrimSpace(path) == "" {
		return reflect.Value{}, fmt.Errorf("empty path")
	}
	v := root
	for _, key := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("cannot traverse into %s at %s", v.Kind(), key)
		}
		f, ok := fieldByKey(v, key)
		if !ok {
			return reflect.Value{}, fmt.Errorf("key not found: %s", path)
		}
		v = f
	}
	return v, nil
}

func fieldByKey(v reflect.Value, key string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonKey(t.Field(i)) == key {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonKey(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

func assign(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		// Secrets may look numeric; strings are taken verbatim.
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", raw)
		}
		v.SetFloat(f)
	case reflect.Slice:
		return assignList(v, raw)
	case reflect.Struct:
		return fmt.Errorf("is a section; set one of its keys instead")
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

// assignList fills a FlexStringList. nil and empty differ: an unset
// groupAllowFrom falls back to allowFrom, an empty one admits nobody.
func assignList(v reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)
	var list FlexStringList
	switch {
	case raw == "null":
		list = nil
	case strings.HasPrefix(raw, "["):
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return fmt.Errorf("invalid list: %w", err)
		}
	default:
		list = FlexStringList{}
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	if !reflect.TypeOf(list).AssignableTo(v.Type()) {
		return fmt.Errorf("unsupported list type %s", v.Type())
	}
	v.Set(reflect.ValueOf(list))
	return nil
}

// ListPaths returns every leaf key with its current value.
func ListPaths(cfg *Config) map[string]any {
	out := make(map[string]any)
	collectLeaves("", reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collectLeaves(prefix string, v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		path := jsonKey(t.Field(i))
		if prefix != "" {
			path = prefix + "." + path
		}
		f := v.Field(i)
		if f.Kind() == reflect.Struct {
			collectLeaves(path, f, out)
			continue
		}
		out[path] = f.Interface()
	}
}

// Sanitize returns a copy of the config with the server password and host
// API key masked, for display.
func Sanitize(cfg *Config) *Config {
	masked := *cfg
	if masked.BlueBubbles.Password != "" {
		masked.BlueBubbles.Password = maskString(masked.BlueBubbles.Password)
	}
	if masked.Host.APIKey != "" {
		masked.Host.APIKey = maskString(masked.Host.APIKey)
	}
	return &masked
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
