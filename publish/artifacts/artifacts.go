// Package artifacts resolves compiled contracts by name from a Hardhat
// artifacts/ or Foundry out/ tree and builds their creation calldata.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/spf13/afero"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish"
)

var (
	ErrNotFound      = errors.New("artifact not found")
	ErrAmbiguous     = errors.New("artifact name is ambiguous")
	ErrNotDeployable = errors.New("artifact has no creation bytecode")
	ErrUnlinked      = errors.New("artifact bytecode has unlinked library references")
)

type artifactJSON struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

type foundryBytecode struct {
	Object string `json:"object"`
}

// Factory is a deployable contract: its ABI and creation bytecode.
type Factory struct {
	Name     string
	Path     string
	ABI      abi.ABI
	Bytecode []byte
}

// Find walks dir for <name>.json, ignoring Hardhat debug files.
func Find(fsys afero.Fs, dir, name string) (string, error) {
	dir = cleanDir(dir)
	want := name + ".json"
	var matches []string
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != want {
			return nil
		}
		matches = append(matches, path)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
		}
		return "", fmt.Errorf("walk %s: %w", dir, err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguous, name, strings.Join(matches, ", "))
	}
}

// Load finds and parses the artifact for name, the way a contract factory is
// requested by name.
func Load(fsys afero.Fs, dir, name string) (*Factory, error) {
	path, err := Find(fsys, dir, name)
	if err != nil {
		return nil, err
	}
	raw, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	f.Name = name
	f.Path = path
	return f, nil
}

// Parse accepts both the Hardhat ("bytecode": "0x..") and Foundry
// ("bytecode": {"object": "0x.."}) layouts.
func Parse(raw []byte) (*Factory, error) {
	var art artifactJSON
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, err
	}
	if len(art.ABI) == 0 {
		return nil, errors.New("missing abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(art.ABI))
	if err != nil {
		return nil, fmt.Errorf("abi: %w", err)
	}

	hexCode, err := bytecodeHex(art.Bytecode)
	if err != nil {
		return nil, err
	}
	if strings.Contains(hexCode, "__") {
		return nil, ErrUnlinked
	}
	code, err := publish.DecodeHex(hexCode)
	if err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrNotDeployable
	}

	return &Factory{
		Name:     art.ContractName,
		ABI:      parsed,
		Bytecode: code,
	}, nil
}

func bytecodeHex(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNotDeployable
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("bytecode: %w", err)
		}
		return s, nil
	}
	var fb foundryBytecode
	if err := json.Unmarshal(raw, &fb); err != nil {
		return "", fmt.Errorf("bytecode: %w", err)
	}
	return fb.Object, nil
}

// DeployData returns the creation bytecode followed by the ABI-encoded
// constructor arguments.
func (f *Factory) DeployData(args ...any) ([]byte, error) {
	packed, err := f.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s constructor: %w", f.Name, err)
	}
	data := make([]byte, 0, len(f.Bytecode)+len(packed))
	data = append(data, f.Bytecode...)
	return append(data, packed...), nil
}

// ConstructorInputs lists the constructor parameter types, e.g. ["address", "address"].
func (f *Factory) ConstructorInputs() []string {
	out := make([]string, len(f.ABI.Constructor.Inputs))
	for i, in := range f.ABI.Constructor.Inputs {
		out[i] = in.Type.String()
	}
	return out
}

func cleanDir(dir string) string {
	if dir == "" {
		return "."
	}
	return filepath.Clean(dir)
}
