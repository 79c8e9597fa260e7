// Package config handles YAML config file loading for the tproto CLI.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches $$, ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values
// and $$ with a literal $.
//
// ${VAR} expands to empty when VAR is unset. ${VAR:-default} uses default
// when VAR is unset or empty. Missing required values surface in Validate
// (e.g. adapter.url).
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		if match == "$$" {
			return "$"
		}
		groups := envVarPattern.FindStringSubmatch(match)
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		return groups[2]
	})
}
