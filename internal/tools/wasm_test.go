package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func wasmName(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func wasmSection(id byte, body ...[]byte) []byte {
	var content []byte
	for _, b := range body {
		content = append(content, b...)
	}
	return append([]byte{id, byte(len(content))}, content...)
}

// echoModule is a WASI command whose _start copies up to 1 KiB of stdin to stdout.
func echoModule() []byte {
	const wasi = "wasi_snapshot_preview1"
	fdIO := []byte{0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f}
	void := []byte{0x60, 0x00, 0x00}

	code := []byte{
		0x00,                                     // no locals
		0x41, 0x00, 0x41, 0x10, 0x36, 0x02, 0x00, // iov.buf = 16
		0x41, 0x00, 0x41, 0x80, 0x08, 0x36, 0x02, 0x04, // iov.len = 1024
		0x41, 0x00, 0x41, 0x00, 0x41, 0x01, 0x41, 0x08, 0x10, 0x00, 0x1a, // fd_read(0, iov, 1, 8)
		0x41, 0x00, 0x41, 0x08, 0x28, 0x02, 0x00, 0x36, 0x02, 0x04, // iov.len = nread
		0x41, 0x01, 0x41, 0x00, 0x41, 0x01, 0x41, 0x08, 0x10, 0x01, 0x1a, // fd_write(1, iov, 1, 8)
		0x0b,
	}

	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	module = append(module, wasmSection(0x01, []byte{0x02}, fdIO, void)...)
	module = append(module, wasmSection(0x02, []byte{0x02},
		wasmName(wasi), wasmName("fd_read"), []byte{0x00, 0x00},
		wasmName(wasi), wasmName("fd_write"), []byte{0x00, 0x00})...)
	module = append(module, wasmSection(0x03, []byte{0x01, 0x01})...)
	module = append(module, wasmSection(0x05, []byte{0x01, 0x00, 0x01})...)
	module = append(module, wasmSection(0x07, []byte{0x02},
		wasmName("memory"), []byte{0x02, 0x00},
		wasmName("_start"), []byte{0x00, 0x02})...)
	module = append(module, wasmSection(0x0a, []byte{0x01, byte(len(code))}, code)...)
	return module
}

const wasmManifest = `name: echo
description: Echo the arguments from a wasm module
runtime: wasm
module: echo.wasm
parameters:
  type: object
  properties:
    text:
      type: string
  required: [text]
`

func writeWasmTool(t *testing.T, dir string) {
	t.Helper()
	writeManifest(t, dir, wasmManifest)
	if err := os.WriteFile(filepath.Join(dir, "echo.wasm"), echoModule(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWasmToolEchoesArguments(t *testing.T) {
	dir := t.TempDir()
	writeWasmTool(t, dir)

	m, err := LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ValidateManifest(m); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Module != filepath.Join(dir, "echo.wasm") {
		t.Fatalf("module path not resolved: %s", m.Module)
	}

	ctx := context.Background()
	tool, err := NewManifestTool(ctx, m)
	if err != nil {
		t.Fatalf("wasm tool: %v", err)
	}
	defer tool.(*wasmTool).Close(ctx)

	for _, text := range []string{"hello", "again"} {
		out, err := tool.Call(ctx, json.RawMessage(`{"text":"`+text+`"}`))
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if out != `{"text":"`+text+`"}` {
			t.Fatalf("unexpected output %q", out)
		}
	}
	if _, err := tool.Call(ctx, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing argument error")
	}
}

func TestWasmToolRejectsMissingEntrypoint(t *testing.T) {
	dir := t.TempDir()
	writeWasmTool(t, dir)
	m, err := LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Entrypoint = "run"
	if _, err := NewWasmTool(context.Background(), m); err == nil || !strings.Contains(err.Error(), "entrypoint") {
		t.Fatalf("expected entrypoint error, got %v", err)
	}
}

func TestValidateWasmManifest(t *testing.T) {
	m := Manifest{Name: "x", Description: "d", Runtime: RuntimeWasm}
	if err := ValidateManifest(m); err == nil {
		t.Fatal("expected module required error")
	}
	m.Runtime = "docker"
	m.Command = "true"
	if err := ValidateManifest(m); err == nil {
		t.Fatal("expected unsupported runtime error")
	}
}

func TestFromConfigRegistersWasmTool(t *testing.T) {
	root := t.TempDir()
	writeWasmTool(t, filepath.Join(root, "echo"))

	cfg := config.Default().Tools
	cfg.Builtins = nil
	cfg.Directory = root
	ctx := context.Background()
	reg, err := FromConfig(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	defer reg.Close(ctx)

	tool, err := reg.Get("echo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	out, err := tool.Call(ctx, json.RawMessage(`{"text":"hi"}`))
	if err != nil || out != `{"text":"hi"}` {
		t.Fatalf("unexpected call result %q %v", out, err)
	}
}
