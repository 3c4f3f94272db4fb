package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotLoaded              = errors.New("config: document not loaded")
	ErrDocumentNotFound       = errors.New("config: document not found")
	ErrInvalidName            = errors.New("config: invalid document name")
	ErrInvalidPath            = errors.New("config: invalid value path")
	ErrUnsupportedValue       = errors.New("config: value is not representable as JSON")
	ErrSchemaNotFound         = errors.New("config: schema not found")
	ErrInvalidSchema          = errors.New("config: invalid schema")
	ErrSchemaValidationFailed = errors.New("config: schema validation failed")
	ErrWatcherRunning         = errors.New("config: watcher already running")
)

// SchemaValidationError is returned when a mutation or reload would leave a
// document in a state its schema rejects. The stored document is unchanged.
type SchemaValidationError struct {
	Document string
	Errors   []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("config: document %q failed schema validation: %s", e.Document, strings.Join(e.Errors, "; "))
}

func (e *SchemaValidationError) Unwrap() error {
	return ErrSchemaValidationFailed
}
