package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// and parses it into a Config struct. Callers should run Validate on
// the result before building endpoints from it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} expressions in raw YAML
// bytes. Shell semantics: a variable that is unset, or set but empty
// when a default is given, resolves to the default. Variables left with
// no value and no default are collected into one error, each named once
// no matter how often the file references them.
func expandEnv(raw []byte) ([]byte, error) {
	var unresolved []string
	seen := make(map[string]bool)

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		value, set := os.LookupEnv(name)

		switch {
		case subs[2] != nil && value == "":
			return subs[2]
		case set:
			return []byte(value)
		}

		if !seen[name] {
			seen[name] = true
			unresolved = append(unresolved, name)
		}
		return match
	})

	errs := make([]error, 0, len(unresolved))
	for _, name := range unresolved {
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
	}
	return result, errors.Join(errs...)
}
