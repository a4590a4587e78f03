package models

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type processDefinitionSeed struct {
	Products []ProcessDefinition `yaml:"products"`
}

// ParseProcessDefinitionsYAML decodes a seed document of the form `products: [...]`.
// Every definition is validated; the first invalid one fails the whole document.
func ParseProcessDefinitionsYAML(data []byte) ([]ProcessDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("process definitions: payload is empty")
	}
	var seed processDefinitionSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("process definitions: decode: %w", err)
	}
	seen := make(map[string]bool, len(seed.Products))
	for i := range seed.Products {
		def := &seed.Products[i]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if seen[def.ProductId] {
			return nil, &ConfigError{ProductId: def.ProductId, Reason: "defined more than once"}
		}
		seen[def.ProductId] = true
	}
	return seed.Products, nil
}

func LoadProcessDefinitionsReader(r io.Reader) ([]ProcessDefinition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("process definitions: read: %w", err)
	}
	return ParseProcessDefinitionsYAML(content)
}

func LoadProcessDefinitionsFile(path string) ([]ProcessDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("process definitions: read %s: %w", path, err)
	}
	defs, err := ParseProcessDefinitionsYAML(content)
	if err != nil {
		return nil, fmt.Errorf("process definitions: %s: %w", path, err)
	}
	return defs, nil
}
