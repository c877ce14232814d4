package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// modelFile is the YAML document shape: models listed under one key so
// files stay self-describing.
type modelFile struct {
	Models []*Model `yaml:"models"`
}

// LoadReader registers models from a YAML document. Unknown fields are
// rejected so a typo fails loudly instead of decoding half a model.
func (r *Registry) LoadReader(src io.Reader) error {
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)

	var f modelFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("parse models: empty document")
		}
		return fmt.Errorf("parse models: %w", err)
	}
	if len(f.Models) == 0 {
		return fmt.Errorf("parse models: no models declared")
	}
	for _, m := range f.Models {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers models from a YAML file.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open models file: %w", err)
	}
	defer f.Close()
	if err := r.LoadReader(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
