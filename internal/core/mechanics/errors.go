package mechanics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mosberg/entomology/internal/core/identifier"
)

var (
	ErrInvalidLifecycleTransition = errors.New("mechanics: invalid lifecycle transition")
	ErrAlreadyInitialized         = errors.New("mechanics: already initialized")
	ErrInvalidConfiguration       = errors.New("mechanics: invalid configuration")
	ErrExecutionFault             = errors.New("mechanics: execution fault")
	ErrInvalidContext             = errors.New("mechanics: invalid context")
	ErrInvalidParameter           = errors.New("mechanics: invalid parameter definition")
)

// InvalidConfigurationError lists the parameters that made Configure reject
// a document. The mechanic's stored configuration is unchanged.
type InvalidConfigurationError struct {
	Mechanic identifier.ID
	Missing  []string
	Invalid  []string
	Details  []string
}

func (e *InvalidConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mechanics: invalid configuration for %s", e.Mechanic)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		fmt.Fprintf(&b, "; invalid: %s", strings.Join(e.Invalid, ", "))
	}
	return b.String()
}

func (e *InvalidConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

func transitionError(id identifier.ID, from State, op string) error {
	return fmt.Errorf("%w: %s cannot %s from %s", ErrInvalidLifecycleTransition, id, op, from)
}
