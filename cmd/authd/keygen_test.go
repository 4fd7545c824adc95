package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"codemingle.dev/internal/auth"
)

func TestKeygenWritesLoadablePair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen", "--out", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	if !strings.Contains(out.String(), "private.pem") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if _, _, err := auth.LoadRSAKeys(filepath.Join(dir, "private.pem"), filepath.Join(dir, "public.pem")); err != nil {
		t.Fatalf("load generated keys: %v", err)
	}

	if _, _, err := writeKeyPair(dir, 0, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, _, err := writeKeyPair(dir, 0, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestServeRejectsUnknownStore(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := writeKeyPair(dir, 0, false); err != nil {
		t.Fatalf("keys: %v", err)
	}
	t.Setenv("CODEMINGLE_AUTH_PRIVATE_KEY_PATH", filepath.Join(dir, "private.pem"))
	t.Setenv("CODEMINGLE_AUTH_PUBLIC_KEY_PATH", filepath.Join(dir, "public.pem"))

	if _, err := newApp(t.Context(), filepath.Join(dir, "none.yaml"), "sqlite"); err == nil {
		t.Fatalf("expected unknown store error")
	}
	a, err := newApp(t.Context(), filepath.Join(dir, "none.yaml"), "memory")
	if err != nil {
		t.Fatalf("memory app: %v", err)
	}
	defer a.close()
	if err := a.ping(t.Context()); err != nil {
		t.Fatalf("memory ping: %v", err)
	}
}
