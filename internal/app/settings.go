package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/integration"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ENTOMOLOGY_"

// Settings configure one process. Values come from the YAML settings file,
// then from the environment, and are validated last.
type Settings struct {
	ConfigDir string                     `yaml:"configDir" env:"CONFIG_DIR" validate:"required"`
	SchemaDir string                     `yaml:"schemaDir" env:"SCHEMA_DIR" validate:"required"`
	Format    string                     `yaml:"format" env:"FORMAT" validate:"oneof=json yaml"`
	Documents []integration.DocumentSpec `yaml:"documents" validate:"min=1,dive"`

	LogLevel         string `yaml:"logLevel" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	TelemetryEnabled bool   `yaml:"telemetryEnabled" env:"TELEMETRY_ENABLED"`

	Watch         bool          `yaml:"watch" env:"WATCH"`
	WatchDebounce time.Duration `yaml:"watchDebounce" env:"WATCH_DEBOUNCE" validate:"gte=0"`

	// AdminAddr is the listen address of the admin endpoints; empty disables them.
	AdminAddr   string `yaml:"adminAddr" env:"ADMIN_ADDR" validate:"omitempty,hostname_port"`
	ServiceName string `yaml:"serviceName" env:"SERVICE_NAME" validate:"required"`
}

func DefaultSettings() Settings {
	return Settings{
		ConfigDir: "config/entomology",
		SchemaDir: "config/entomology/schema",
		Format:    "json",
		Documents: []integration.DocumentSpec{
			{Name: integration.DefaultRootDocument, Schema: integration.DefaultRootSchema},
		},
		LogLevel:         "info",
		TelemetryEnabled: true,
		Watch:            true,
		WatchDebounce:    config.DefaultDebounce,
		AdminAddr:        "127.0.0.1:7420",
		ServiceName:      "entomology",
	}
}

// LoadSettings reads path over the defaults. An empty path skips the file.
// Unknown keys in the file are an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Settings{}, fmt.Errorf("open settings: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
