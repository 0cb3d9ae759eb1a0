package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/healthstack/healthwatch/internal/rules"

	"gopkg.in/yaml.v3"
)

// FileStore reads rule definitions from a YAML file. The file is re-read on
// every call so an edited file takes effect on the next analyzer creation or
// reload without restarting the process. Writes are not supported.
type FileStore struct {
	path string
}

// NewFileStore builds the store; the file is validated lazily on first read.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type rulesFile struct {
	Rules []rules.Definition `yaml:"rules"`
}

// Definitions returns every definition in the file.
func (s *FileStore) Definitions(_ context.Context) ([]rules.Definition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", s.path, err)
	}
	return parsed.Rules, nil
}

// DefinitionsForTenant filters the file's definitions down to one tenant.
func (s *FileStore) DefinitionsForTenant(ctx context.Context, tenant string) ([]rules.Definition, error) {
	all, err := s.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	var out []rules.Definition
	for _, def := range all {
		if def.Tenant == tenant {
			out = append(out, def)
		}
	}
	return out, nil
}

// SaveDefinition is unsupported for file-backed rules.
func (s *FileStore) SaveDefinition(context.Context, rules.Definition) (rules.Definition, error) {
	return rules.Definition{}, ErrReadOnly
}

// DeleteDefinition is unsupported for file-backed rules.
func (s *FileStore) DeleteDefinition(context.Context, string, string) error {
	return ErrReadOnly
}
