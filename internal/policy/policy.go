package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// CheckCommandAllowed enforces --enable-commands. An allowlist entry admits the
// command itself and every subcommand below it, so "wallet" admits
// "wallet unlock" while "wallet show" admits only that leaf.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := strings.Fields(normalize(commandPath))
	for _, allowed := range allowlist {
		if hasPrefix(path, strings.Fields(normalize(allowed))) {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
