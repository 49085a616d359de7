package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"premiumsync/internal/auth"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "premiumsyncd ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestTokenCommandIssuesToken(t *testing.T) {
	t.Setenv("PS_CONFIG", "")
	t.Setenv("PS_DB_DSN", "sqlite://:memory:")
	t.Setenv("PS_DB_DRIVER", "sqlite")
	t.Setenv("PS_TOKEN_SIGNING_KEY", "cli-test-key")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--user", "u1", "--ttl", "1h"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token: %v", err)
	}
	var issued auth.IssuedToken
	if err := json.Unmarshal(out.Bytes(), &issued); err != nil {
		t.Fatalf("decode token output %q: %v", out.String(), err)
	}
	if issued.UserID != "u1" || issued.Token == "" {
		t.Fatalf("unexpected token output %+v", issued)
	}
}
