package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name discovered under the tools directory.
const ManifestFile = "tool.yaml"

// Tool runtimes a manifest may select.
const (
	RuntimeExec = "exec"
	RuntimeWasm = "wasm"
)

// Manifest describes an external tool backed by a command or a WASI module. Either way the
// call arguments arrive as JSON on stdin and the trimmed stdout becomes the result.
type Manifest struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Runtime     string         `yaml:"runtime,omitempty"`
	Command     string         `yaml:"command,omitempty"`
	WorkDir     string         `yaml:"workdir,omitempty"`
	Module      string         `yaml:"module,omitempty"`
	Entrypoint  string         `yaml:"entrypoint,omitempty"`
}

// LoadManifest reads a manifest from disk. Relative working directories resolve against the
// manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	switch {
	case m.WorkDir == "":
		m.WorkDir = dir
	case !filepath.IsAbs(m.WorkDir):
		m.WorkDir = filepath.Join(dir, m.WorkDir)
	}
	if m.Module != "" && !filepath.IsAbs(m.Module) {
		m.Module = filepath.Join(dir, m.Module)
	}
	return m, nil
}

// ValidateManifest ensures the manifest contains required fields.
func ValidateManifest(m Manifest) error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	if strings.ContainsAny(m.Name, " \t.") {
		return fmt.Errorf("name %q must not contain spaces or dots", m.Name)
	}
	if m.Description == "" {
		return errors.New("description is required")
	}
	switch m.Runtime {
	case "", RuntimeExec:
		if strings.TrimSpace(m.Command) == "" {
			return errors.New("command is required")
		}
	case RuntimeWasm:
		if m.Module == "" {
			return errors.New("module is required for wasm tools")
		}
	default:
		return fmt.Errorf("unsupported runtime %q", m.Runtime)
	}
	if m.Parameters != nil {
		if t, _ := m.Parameters["type"].(string); t != "object" {
			return errors.New("parameters.type must be object")
		}
	}
	return nil
}

// DiscoverManifests walks dir for tool manifests.
func DiscoverManifests(dir string) ([]Manifest, error) {
	var manifests []Manifest
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestFile {
			return nil
		}
		m, err := LoadManifest(path)
		if err != nil {
			return err
		}
		if err := ValidateManifest(m); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		manifests = append(manifests, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover tools in %s: %w", dir, err)
	}
	return manifests, nil
}

// NewManifestTool builds the Tool for a validated manifest according to its runtime.
func NewManifestTool(ctx context.Context, m Manifest) (Tool, error) {
	if m.Runtime == RuntimeWasm {
		return NewWasmTool(ctx, m)
	}
	return NewExecTool(m)
}

type execTool struct {
	def  Definition
	args []string
	dir  string
}

// NewExecTool builds a Tool from a validated manifest.
func NewExecTool(m Manifest) (Tool, error) {
	args, err := shellwords.NewParser().Parse(m.Command)
	if err != nil {
		return nil, fmt.Errorf("parse tool command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tool command is empty")
	}
	params := m.Parameters
	if params == nil {
		params = ObjectSchema(nil)
	}
	return &execTool{
		def:  Definition{Name: m.Name, Description: m.Description, Parameters: params},
		args: args,
		dir:  m.WorkDir,
	}, nil
}

func (t *execTool) Definition() Definition { return t.def }

func (t *execTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
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
	cmd := exec.CommandContext(ctx, t.args[0], t.args[1:]...)
	cmd.Dir = t.dir
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tool %s failed: %w: %s", t.def.Name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
