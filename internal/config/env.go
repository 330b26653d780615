package config

import (
	"os"
	"regexp"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolate walks a decoded YAML tree and expands ${VAR} references in
// every scalar against lookup. An unset variable leaves the placeholder
// verbatim and logs a warning, so a missing secret shows up in the
// descriptor instead of silently becoming empty.
func interpolate(node *yaml.Node, lookup func(string) (string, bool), logger zerolog.Logger) {
	if node == nil {
		return
	}
	if node.Kind == yaml.ScalarNode {
		node.Value = envPattern.ReplaceAllStringFunc(node.Value, func(match string) string {
			name := match[2 : len(match)-1]
			if value, ok := lookup(name); ok {
				return value
			}
			logger.Warn().Str("variable", name).Msg("environment variable not set, keeping placeholder")
			return match
		})
		return
	}
	for _, child := range node.Content {
		interpolate(child, lookup, logger)
	}
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
