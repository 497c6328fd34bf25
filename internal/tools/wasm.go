package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const defaultWasmEntrypoint = "_start"

// wasmTool runs a WASI module per call. Arguments arrive on stdin as JSON and the trimmed
// stdout becomes the result, the same contract as command tools.
type wasmTool struct {
	def      Definition
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	entry    string
}

// NewWasmTool compiles the manifest's module once. Each call instantiates a fresh copy so
// calls never share memory.
func NewWasmTool(ctx context.Context, m Manifest) (Tool, error) {
	wasmBytes, err := os.ReadFile(m.Module)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}
	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}
	entry := m.Entrypoint
	if entry == "" {
		entry = defaultWasmEntrypoint
	}
	if _, ok := compiled.ExportedFunctions()[entry]; !ok {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("entrypoint %q not found", entry)
	}
	params := m.Parameters
	if params == nil {
		params = ObjectSchema(nil)
	}
	return &wasmTool{
		def:      Definition{Name: m.Name, Description: m.Description, Parameters: params},
		rt:       rt,
		compiled: compiled,
		entry:    entry,
	}, nil
}

func (t *wasmTool) Definition() Definition { return t.def }

func (t *wasmTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	payload := bytes.TrimSpace(args)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return "", errors.New("arguments are not valid JSON")
	}
	if err := checkRequired(payload, t.def.Parameters); err != nil {
		return "", err
	}
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(t.def.Name).
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions(t.entry)
	mod, err := t.rt.InstantiateModule(ctx, t.compiled, cfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exit *sys.ExitError
		if !errors.As(err, &exit) || exit.ExitCode() != 0 {
			return "", fmt.Errorf("tool %s failed: %w: %s", t.def.Name, err, strings.TrimSpace(stderr.String()))
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Close releases the compiled module and its runtime.
func (t *wasmTool) Close(ctx context.Context) error {
	return t.rt.Close(ctx)
}
