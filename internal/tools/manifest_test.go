package tools

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

const validManifest = `name: shout
description: Repeat the arguments back
parameters:
  type: object
  properties:
    text:
      type: string
  required: [text]
command: cat
`

func writeManifest(t *testing.T, dir, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidateManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, validManifest)
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ValidateManifest(m); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.WorkDir != dir {
		t.Fatalf("expected workdir %s, got %s", dir, m.WorkDir)
	}
}

func TestValidateManifestMissingFields(t *testing.T) {
	if err := ValidateManifest(Manifest{}); err == nil {
		t.Fatal("expected validation error")
	}
	m := Manifest{Name: "x", Description: "d", Command: "true", Parameters: map[string]any{"type": "array"}}
	if err := ValidateManifest(m); err == nil {
		t.Fatal("expected parameters type error")
	}
}

func TestDiscoverAndRunExecTool(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "shout"), validManifest)

	manifests, err := DiscoverManifests(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(manifests) != 1 {
		t.Fatalf("expected 1 manifest, got %d", len(manifests))
	}
	tool, err := NewExecTool(manifests[0])
	if err != nil {
		t.Fatalf("exec tool: %v", err)
	}
	out, err := tool.Call(context.Background(), json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != `{"text":"hello"}` {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing argument error")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Tools
	reg, err := FromConfig(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if reg.Len() != len(cfg.Builtins) {
		t.Fatalf("expected %d tools, got %d", len(cfg.Builtins), reg.Len())
	}

	cfg.Builtins = []string{"calculate", "teleport"}
	if _, err := FromConfig(context.Background(), cfg, newLogger()); err == nil {
		t.Fatal("expected unknown builtin error")
	}

	cfg.Enabled = false
	reg, err = FromConfig(context.Background(), cfg, newLogger())
	if err != nil || reg.Len() != 0 {
		t.Fatalf("expected empty registry when disabled, got %d %v", reg.Len(), err)
	}
}
