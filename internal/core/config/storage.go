package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec converts between stored bytes and documents.
type Codec interface {
	// Extension is the file extension without the leading dot.
	Extension() string
	Encode(doc Document) ([]byte, error)
	Decode(data []byte) (Document, error)
}

type JSONCodec struct{}

func (JSONCodec) Extension() string { return "json" }

func (JSONCodec) Encode(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (JSONCodec) Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("config: document root must be an object")
	}
	return doc, nil
}

type YAMLCodec struct{}

func (YAMLCodec) Extension() string { return "yaml" }

func (YAMLCodec) Encode(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLCodec) Decode(data []byte) (Document, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("config: document root must be a mapping")
	}
	return NewDocument(raw)
}

// CodecFor returns the codec registered for a format name ("json", "yaml" or "yml").
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(format) {
	case "json":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("config: unsupported format %q", format)
}

// Storage persists encoded documents by name.
type Storage interface {
	// Read returns ErrDocumentNotFound when the document does not exist.
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	List() ([]string, error)
	Codec() Codec
}

// FileStorage keeps one file per document, <root>/<name>.<ext>.
type FileStorage struct {
	root  string
	codec Codec
}

func NewFileStorage(root string, codec Codec) *FileStorage {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &FileStorage{root: root, codec: codec}
}

func (s *FileStorage) Root() string { return s.root }

func (s *FileStorage) Codec() Codec { return s.codec }

// Path returns the file backing a document.
func (s *FileStorage) Path(name string) string {
	return filepath.Join(s.root, name+"."+s.codec.Extension())
}

func (s *FileStorage) Read(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	return data, err
}

// Write replaces the file atomically through a temporary file in the same directory.
func (s *FileStorage) Write(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path(name))
}

func (s *FileStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	suffix := "." + s.codec.Extension()
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, suffix))
	}
	slices.Sort(names)
	return names, nil
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
