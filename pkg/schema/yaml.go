package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk shape of a declarative schema file.
type definitionFile struct {
	Types []EntityTypeDef `yaml:"types"`
}

// LoadDefinitions decodes entity-type definitions from YAML.
func LoadDefinitions(r io.Reader) ([]EntityTypeDef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode definitions: %w", err)
	}
	if len(file.Types) == 0 {
		return nil, fmt.Errorf("definitions declare no types")
	}
	return file.Types, nil
}

// LoadYAMLFile registers every type declared in the file. Registration stops
// at the first failure so a bad file never half-applies.
func (r *Registry) LoadYAMLFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open definitions: %w", err)
	}
	defer func() { _ = f.Close() }()

	defs, err := LoadDefinitions(f)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := r.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}
