package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationResult reports whether a document or configuration is valid.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// Merge combines two results; the outcome is valid only if both are.
func (r ValidationResult) Merge(other ValidationResult) ValidationResult {
	return ValidationResult{
		Valid:    r.Valid && other.Valid,
		Errors:   append(append([]string(nil), r.Errors...), other.Errors...),
		Warnings: append(append([]string(nil), r.Warnings...), other.Warnings...),
	}
}

// Schema is a compiled JSON schema.
type Schema struct {
	ref      string
	resolved *jsonschema.Resolved
}

func CompileSchema(ref string, data []byte) (*Schema, error) {
	var js jsonschema.Schema
	if err := json.Unmarshal(data, &js); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, ref, err)
	}
	resolved, err := js.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, ref, err)
	}
	return &Schema{ref: ref, resolved: resolved}, nil
}

func (s *Schema) Ref() string { return s.ref }

func (s *Schema) Validate(doc Document) ValidationResult {
	if err := s.resolved.Validate(map[string]any(doc)); err != nil {
		var msgs []string
		for _, line := range strings.Split(err.Error(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				msgs = append(msgs, line)
			}
		}
		return Invalid(msgs...)
	}
	return Valid()
}

// SchemaLoader resolves schema references into compiled schemas.
type SchemaLoader interface {
	Load(ref string) (*Schema, error)
}

// FSSchemaLoader reads schemas from a filesystem and caches compiled results.
type FSSchemaLoader struct {
	fsys  fs.FS
	mu    sync.Mutex
	cache map[string]*Schema
}

func NewSchemaLoader(fsys fs.FS) *FSSchemaLoader {
	return &FSSchemaLoader{fsys: fsys, cache: make(map[string]*Schema)}
}

func (l *FSSchemaLoader) Load(ref string) (*Schema, error) {
	clean := strings.TrimPrefix(path.Clean("/"+ref), "/")
	if !fs.ValidPath(clean) || clean == "." {
		return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, ref)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.cache[clean]; ok {
		return s, nil
	}
	data, err := fs.ReadFile(l.fsys, clean)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	s, err := CompileSchema(clean, data)
	if err != nil {
		return nil, err
	}
	l.cache[clean] = s
	return s, nil
}
