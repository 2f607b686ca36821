package graph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// Format is a graph file format.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatHCL   Format = "hcl"
	FormatImage Format = "image"
	// FormatRaw is a protocol byte stream.
	FormatRaw Format = "raw"
)

// DetectFormat guesses the format of path from its extension.
// Unknown extensions are treated as raw protocol streams.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl":
		return FormatHCL
	case ImageExt:
		return FormatImage
	default:
		return FormatRaw
	}
}

// LoadYAML decodes a YAML definition. Unknown keys are rejected.
func LoadYAML(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty definition", ErrInvalidGraph)
		}
		return nil, fmt.Errorf("failed to parse graph YAML: %w", err)
	}
	return &def, nil
}

// LoadHCL decodes an HCL definition. filename is used in diagnostics.
func LoadHCL(src []byte, filename string) (*Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var def Definition
	diags = gohcl.DecodeBody(file.Body, nil, &def)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	return &def, nil
}

// LoadFile reads a YAML or HCL definition from path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	switch DetectFormat(path) {
	case FormatYAML:
		return LoadYAML(bytes.NewReader(data))
	case FormatHCL:
		return LoadHCL(data, path)
	default:
		return nil, fmt.Errorf("%s is not a graph definition (want .yaml, .yml or .hcl)", path)
	}
}
