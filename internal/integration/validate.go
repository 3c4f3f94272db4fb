package integration

import (
	"github.com/Mosberg/entomology/internal/core/config"
)

// Report is the outcome of Validate.
type Report struct {
	OK        bool                               `json:"ok"`
	Mechanics map[string]config.ValidationResult `json:"mechanics"`
	Documents map[string]config.ValidationResult `json:"documents"`
}

// Validate checks every document against its schema and every mechanic's
// section, or its current configuration when it has none, against the
// mechanic's parameters. Nothing is modified.
func (s *System) Validate() Report {
	report := Report{
		OK:        true,
		Mechanics: make(map[string]config.ValidationResult),
		Documents: make(map[string]config.ValidationResult),
	}
	for _, d := range s.documents {
		res := s.store.Validate(d.Name)
		report.Documents[d.Name] = res
		report.OK = report.OK && res.Valid
	}

	root, _ := s.store.Document(s.RootDocument())
	for _, m := range s.registry.Mechanics() {
		section, ok := root.Section(m.ID().Path)
		if !ok || len(section) == 0 {
			section = m.Configuration()
		}
		res := m.ValidateConfiguration(section)
		report.Mechanics[m.ID().String()] = res
		report.OK = report.OK && res.Valid
	}
	return report
}
