package integration

import (
	"github.com/Mosberg/entomology/internal/core/mechanics"
	"github.com/Mosberg/entomology/internal/core/mechanics/breeding"
	"github.com/Mosberg/entomology/internal/core/mechanics/environmental"
	"github.com/Mosberg/entomology/internal/core/observability/log"
)

// Builtin returns the registrations of the bundled mechanics.
func Builtin() []Registration {
	return []Registration{
		{
			ID: breeding.ID,
			Factory: func(logger log.Log) (mechanics.Mechanic, error) {
				return breeding.New(logger), nil
			},
		},
		{
			ID: environmental.ID,
			Factory: func(logger log.Log) (mechanics.Mechanic, error) {
				return environmental.New(logger), nil
			},
		},
	}
}
