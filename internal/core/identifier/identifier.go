// Package identifier implements the namespaced names ("namespace:path") used
// for mechanics, registry components, tuners and configuration documents.
package identifier

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultNamespace is used by Of and by Parse when the input has no namespace.
const DefaultNamespace = "entomology"

var (
	ErrEmpty            = errors.New("identifier is empty")
	ErrInvalidNamespace = errors.New("invalid identifier namespace")
	ErrInvalidPath      = errors.New("invalid identifier path")
)

// ID is comparable and therefore usable as a map key.
type ID struct {
	Namespace string
	Path      string
}

// New validates and builds an ID.
func New(namespace, path string) (ID, error) {
	if !validNamespace(namespace) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	if !validPath(path) {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return ID{Namespace: namespace, Path: path}, nil
}

// MustNew is New for package-level declarations; it panics on invalid input.
func MustNew(namespace, path string) ID {
	id, err := New(namespace, path)
	if err != nil {
		panic(err)
	}
	return id
}

// Of returns an ID in the default namespace.
func Of(path string) ID {
	return MustNew(DefaultNamespace, path)
}

// Parse accepts "namespace:path" or a bare path in the default namespace.
func Parse(s string) (ID, error) {
	if s == "" {
		return ID{}, ErrEmpty
	}
	ns, path, found := strings.Cut(s, ":")
	if !found {
		return New(DefaultNamespace, s)
	}
	return New(ns, path)
}

func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Namespace + ":" + id.Path
}

func (id ID) IsZero() bool {
	return id.Namespace == "" && id.Path == ""
}

// Compare orders by namespace, then path.
func (id ID) Compare(other ID) int {
	if c := strings.Compare(id.Namespace, other.Namespace); c != 0 {
		return c
	}
	return strings.Compare(id.Path, other.Path)
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func validNamespace(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isBaseRune(r) {
			return false
		}
	}
	return true
}

func validPath(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isBaseRune(r) && r != '/' {
			return false
		}
	}
	return true
}

func isBaseRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '-'
}
