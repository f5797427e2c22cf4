package cfg

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FillFromFile reads a flat YAML mapping of flag name to value and sets
// every flag not already set on the CLI or from env. Unknown keys are an
// error so typos do not pass silently.
func FillFromFile(fs *flag.FlagSet, path string, logf func(string, ...any)) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return fillFromYAML(fs, b, path, logf)
}

func fillFromYAML(fs *flag.FlagSet, b []byte, path string, logf func(string, ...any)) error {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var unknown []string
	for _, name := range keys {
		f := fs.Lookup(name)
		if f == nil || name == "config" {
			unknown = append(unknown, name)
			continue
		}
		val := yamlString(raw[name])
		if set[name] {
			if logf != nil {
				logf("flag -%s: cli/env value %q overrides %s", name, f.Value.String(), path)
			}
			continue
		}
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("config %s: invalid %s=%q: %w", path, name, val, err)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(unknown, ", "))
	}
	return nil
}

// yamlString renders a decoded scalar or list the way the flag would be
// written on the command line. Lists become comma separated.
func yamlString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, yamlString(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
