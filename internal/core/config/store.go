// Package config implements the named, schema-validated configuration
// documents shared by mechanics and the integration layer.
//
// A Store owns every loaded document. Stored documents are copy-on-write:
// mutations build a new tree, validate it against the bound schema and only
// then replace the old one, so readers never observe a rejected state.
package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Mosberg/entomology/internal/core/events/bus"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/observability/metrics"
)

// Op names the store operation that produced a change notification.
type Op string

const (
	OpLoad   Op = "load"
	OpSet    Op = "set"
	OpSave   Op = "save"
	OpReload Op = "reload"
)

const (
	statusOK       = "ok"
	statusFallback = "fallback"
	statusRejected = "rejected"
	statusError    = "error"
)

// AllDocuments subscribes a listener to every document.
const AllDocuments = bus.AnyKey

const changeTopic = "config"

// Change is delivered to listeners after a document is accepted.
type Change struct {
	Name     string
	Op       Op
	Document Document
}

// Listener receives a private copy of the accepted document.
type Listener func(name string, doc Document) error

// DefaultProvider supplies the document used when nothing valid is stored.
type DefaultProvider func(name string) Document

// Migration upgrades a freshly read document in place and reports whether it changed.
type Migration func(name string, doc Document) bool

func DefaultDocument(string) Document {
	return Document{"version": CurrentVersion, "enabled": true}
}

// StampVersion sets "version" to CurrentVersion when it is missing.
func StampVersion(_ string, doc Document) bool {
	if doc.Version() != "" {
		return false
	}
	doc["version"] = CurrentVersion
	return true
}

type entry struct {
	doc       Document
	schemaRef string
	schema    *Schema
	// seen is the hash of the last bytes read or written for this document.
	seen uint64
}

type Option func(*Store)

func WithDefaults(p DefaultProvider) Option {
	return func(s *Store) { s.defaults = p }
}

// WithMigration installs m. StampVersion always runs after it.
func WithMigration(m Migration) Option {
	return func(s *Store) {
		s.migrate = func(name string, doc Document) bool {
			changed := m(name, doc)
			return StampVersion(name, doc) || changed
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	storage  Storage
	schemas  SchemaLoader
	defaults DefaultProvider
	migrate  Migration
	changes  bus.EventBus[Change]
	metrics  *metrics.Metrics
	logger   log.Log
}

// NewStore creates a store over storage. schemas may be nil when no document
// binds a schema.
func NewStore(storage Storage, schemas SchemaLoader, logger log.Log, opts ...Option) *Store {
	s := &Store{
		entries:  make(map[string]*entry),
		storage:  storage,
		schemas:  schemas,
		defaults: DefaultDocument,
		migrate:  StampVersion,
		changes:  bus.New[Change](),
		logger:   logger.Named("config"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads a document and binds schemaRef to it ("" for none). A missing
// document is created from the default provider. Unparsable or invalid
// content is left on disk untouched and replaced in memory by the last good
// document, or by the provider default.
func (s *Store) Load(name, schemaRef string) (Document, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	var schema *Schema
	if schemaRef != "" {
		if s.schemas == nil {
			return nil, fmt.Errorf("%w: %q", ErrSchemaNotFound, schemaRef)
		}
		compiled, err := s.schemas.Load(schemaRef)
		if err != nil {
			s.record(name, OpLoad, statusError)
			return nil, fmt.Errorf("config: schema for %q: %w", name, err)
		}
		schema = compiled
	}

	s.mu.Lock()
	doc, status, err := s.loadLocked(name, schemaRef, schema)
	s.mu.Unlock()

	s.record(name, OpLoad, status)
	if err != nil {
		return nil, err
	}
	s.notify(name, OpLoad, doc)
	return doc.Clone(), nil
}

func (s *Store) loadLocked(name, ref string, schema *Schema) (Document, string, error) {
	raw, err := s.storage.Read(name)
	created := false
	var doc Document
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		doc = s.defaultDocument(name)
		created = true
	case err != nil:
		return nil, statusError, fmt.Errorf("config: read %q: %w", name, err)
	default:
		doc, err = s.storage.Codec().Decode(raw)
		if err != nil {
			s.logger.Error("Failed to parse configuration document, using fallback",
				log.String("document", name), log.Error(err))
			return s.fallbackLocked(name, ref, schema, xxhash.Sum64(raw)), statusFallback, nil
		}
	}

	changed := s.migrate(name, doc)
	if err := s.check(name, schema, doc); err != nil {
		s.logger.Warn("Configuration document failed validation, using fallback",
			log.String("document", name), log.Error(err))
		return s.fallbackLocked(name, ref, schema, xxhash.Sum64(raw)), statusFallback, nil
	}

	seen := xxhash.Sum64(raw)
	if created || changed {
		seen, err = s.persist(name, doc)
		if err != nil {
			return nil, statusError, err
		}
		if created {
			s.logger.Info("Created configuration document", log.String("document", name))
		}
	}
	s.entries[name] = &entry{doc: doc, schemaRef: ref, schema: schema, seen: seen}
	return doc, statusOK, nil
}

func (s *Store) fallbackLocked(name, ref string, schema *Schema, seen uint64) Document {
	if e, ok := s.entries[name]; ok {
		e.schemaRef, e.schema, e.seen = ref, schema, seen
		return e.doc
	}
	doc := s.defaultDocument(name)
	s.migrate(name, doc)
	s.entries[name] = &entry{doc: doc, schemaRef: ref, schema: schema, seen: seen}
	return doc
}

func (s *Store) defaultDocument(name string) Document {
	if s.defaults == nil {
		return Document{}
	}
	doc, err := NewDocument(s.defaults(name))
	if err != nil {
		s.logger.Error("Default configuration is not representable", log.String("document", name), log.Error(err))
		return Document{}
	}
	return doc
}

// Set writes value at the dot path of a loaded document. The whole resulting
// document is validated before anything is stored or persisted.
func (s *Store) Set(name, path string, value any) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	next := e.doc.Clone()
	if err := next.Set(path, value); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.check(name, e.schema, next); err != nil {
		s.mu.Unlock()
		s.record(name, OpSet, statusRejected)
		s.logger.Warn("Rejected configuration change",
			log.String("document", name), log.String("path", path), log.Error(err))
		return err
	}
	seen, err := s.persist(name, next)
	if err != nil {
		s.mu.Unlock()
		s.record(name, OpSet, statusError)
		return err
	}
	e.doc, e.seen = next, seen
	s.mu.Unlock()

	s.record(name, OpSet, statusOK)
	s.notify(name, OpSet, next)
	return nil
}

// Save replaces a document wholesale. A document that was never loaded is
// stored without a schema.
func (s *Store) Save(name string, doc Document) error {
	if err := validName(name); err != nil {
		return err
	}
	next, err := NewDocument(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.entries[name]
	var schema *Schema
	if ok {
		schema = e.schema
	}
	if err := s.check(name, schema, next); err != nil {
		s.mu.Unlock()
		s.record(name, OpSave, statusRejected)
		return err
	}
	seen, err := s.persist(name, next)
	if err != nil {
		s.mu.Unlock()
		s.record(name, OpSave, statusError)
		return err
	}
	if ok {
		e.doc, e.seen = next, seen
	} else {
		s.entries[name] = &entry{doc: next, seen: seen}
	}
	s.mu.Unlock()

	s.record(name, OpSave, statusOK)
	s.notify(name, OpSave, next)
	return nil
}

// Reload re-reads a loaded document. Listeners are notified whenever the
// content is accepted, even if it is unchanged.
func (s *Store) Reload(name string) error {
	_, err := s.reload(name, false)
	return err
}

// ReloadIfChanged reloads only when the stored bytes differ from the last
// bytes seen. It reports whether a reload happened.
func (s *Store) ReloadIfChanged(name string) (bool, error) {
	return s.reload(name, true)
}

func (s *Store) reload(name string, onlyChanged bool) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	raw, err := s.storage.Read(name)
	if errors.Is(err, ErrDocumentNotFound) {
		s.mu.Unlock()
		s.logger.Warn("Configuration document disappeared, keeping current values", log.String("document", name))
		return false, nil
	}
	if err != nil {
		s.mu.Unlock()
		s.record(name, OpReload, statusError)
		return false, fmt.Errorf("config: read %q: %w", name, err)
	}
	sum := xxhash.Sum64(raw)
	if onlyChanged && sum == e.seen {
		s.mu.Unlock()
		return false, nil
	}
	e.seen = sum

	doc, err := s.storage.Codec().Decode(raw)
	if err != nil {
		s.mu.Unlock()
		s.record(name, OpReload, statusRejected)
		return false, fmt.Errorf("config: decode %q: %w", name, err)
	}
	s.migrate(name, doc)
	if err := s.check(name, e.schema, doc); err != nil {
		s.mu.Unlock()
		s.record(name, OpReload, statusRejected)
		return false, err
	}
	e.doc = doc
	s.mu.Unlock()

	s.record(name, OpReload, statusOK)
	s.logger.Info("Reloaded configuration document", log.String("document", name))
	s.notify(name, OpReload, doc)
	return true, nil
}

// ReloadAll reloads every loaded document in name order and joins the failures.
func (s *Store) ReloadAll() error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.Reload(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AddListener registers fn for a document name, or AllDocuments. The
// returned function removes it.
func (s *Store) AddListener(name string, fn Listener) func() {
	sub := s.changes.Subscribe(changeTopic, name, func(c Change) error {
		return fn(c.Name, c.Document.Clone())
	})
	return func() { _ = sub.Cancel() }
}

// Validate checks the current in-memory document against its schema.
func (s *Store) Validate(name string) ValidationResult {
	s.mu.RLock()
	e, ok := s.entries[name]
	var doc Document
	var schema *Schema
	if ok {
		doc, schema = e.doc, e.schema
	}
	s.mu.RUnlock()

	if !ok {
		return Invalid(fmt.Sprintf("document %q is not loaded", name))
	}
	if schema == nil {
		res := Valid()
		res.Warnings = []string{fmt.Sprintf("document %q has no schema", name)}
		return res
	}
	return schema.Validate(doc)
}

func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Store) IsLoaded(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[name]
	return ok
}

// Document returns a copy of a loaded document.
func (s *Store) Document(name string) (Document, bool) {
	doc, ok := s.current(name)
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Section returns a copy of the object at path inside a loaded document.
func (s *Store) Section(name, path string) (Document, bool) {
	doc, ok := s.current(name)
	if !ok {
		return nil, false
	}
	return doc.Section(path)
}

func (s *Store) SchemaRef(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[name]; ok {
		return e.schemaRef
	}
	return ""
}

// current returns the stored tree itself; callers must not mutate it.
func (s *Store) current(name string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.doc, true
}

// Get reads a typed value from a loaded document, returning def when the
// document is not loaded, the path is absent or the value has another type.
func Get[T any](s *Store, name, path string, def T) T {
	doc, ok := s.current(name)
	if !ok {
		return def
	}
	return As(doc, path, def)
}

func (s *Store) check(name string, schema *Schema, doc Document) error {
	if schema == nil {
		return nil
	}
	if res := schema.Validate(doc); !res.Valid {
		return &SchemaValidationError{Document: name, Errors: res.Errors}
	}
	return nil
}

func (s *Store) persist(name string, doc Document) (uint64, error) {
	data, err := s.storage.Codec().Encode(doc)
	if err != nil {
		return 0, fmt.Errorf("config: encode %q: %w", name, err)
	}
	if err := s.storage.Write(name, data); err != nil {
		return 0, fmt.Errorf("config: write %q: %w", name, err)
	}
	return xxhash.Sum64(data), nil
}

func (s *Store) notify(name string, op Op, doc Document) {
	err := s.changes.Publish(changeTopic, name, Change{Name: name, Op: op, Document: doc})
	if err == nil {
		return
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		s.logger.Error("Configuration listener failed",
			log.String("document", name), log.String("op", string(op)), log.Error(e))
	}
}

func (s *Store) record(name string, op Op, status string) {
	s.metrics.RecordConfigEvent(context.Background(), name, string(op), status)
}
