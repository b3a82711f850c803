package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "wallet unlock"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"quote"}, "quote"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"tokens"}, "quote"); !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected command to be blocked, got %v", err)
	}
}

func TestCheckCommandAllowedMatchesSubcommands(t *testing.T) {
	if err := CheckCommandAllowed([]string{" Wallet "}, "wallet  unlock"); err != nil {
		t.Fatalf("expected parent entry to admit subcommand: %v", err)
	}
	if err := CheckCommandAllowed([]string{"wallet show"}, "wallet delete"); err == nil {
		t.Fatal("expected sibling subcommand to be blocked")
	}
	if err := CheckCommandAllowed([]string{"swaps list"}, "swaps"); err == nil {
		t.Fatal("expected leaf entry not to admit its parent")
	}
	if err := CheckCommandAllowed([]string{"wall"}, "wallet show"); err == nil {
		t.Fatal("expected prefix match on whole words only")
	}
}
