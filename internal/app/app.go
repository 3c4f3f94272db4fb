// Package app assembles a runnable process from Settings: logging, metrics,
// the configuration store, the registry, telemetry, the integration system,
// the file watcher and the admin server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Mosberg/entomology/internal/admin"
	"github.com/Mosberg/entomology/internal/core/config"
	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/core/registry"
	"github.com/Mosberg/entomology/internal/core/telemetry"
	"github.com/Mosberg/entomology/internal/integration"
)

const DefaultShutdownTimeout = 10 * time.Second

var (
	ErrAlreadyRunning = errors.New("app is already running")
	ErrNotRunning     = errors.New("app is not running")
)

type App struct {
	settings Settings
	logger   *log.Logger
	system   *integration.System
	watcher  *config.Watcher
	admin    *admin.Server

	mu      sync.Mutex
	running bool
}

// NewApp takes ownership of the components. watcher and server may be nil.
func NewApp(s Settings, logger *log.Logger, system *integration.System, watcher *config.Watcher, server *admin.Server) *App {
	return &App{
		settings: s,
		logger:   logger,
		system:   system,
		watcher:  watcher,
		admin:    server,
	}
}

func (a *App) Settings() Settings          { return a.settings }
func (a *App) System() *integration.System { return a.system }
func (a *App) Admin() *admin.Server        { return a.admin }
func (a *App) Logger() log.Log             { return a.logger }

// Start initialises the system, then starts the watcher and the admin
// server. Partial initialisation failures are logged; a system that did not
// come up at all is an error.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}

	if err := a.system.Initialize(ctx); err != nil {
		if !a.system.Initialized() {
			return fmt.Errorf("initialize: %w", err)
		}
		a.logger.Warn("System initialized with errors", log.Error(err))
	}

	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			_ = a.system.Shutdown(ctx)
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	if a.admin != nil {
		if err := a.admin.Start(); err != nil {
			a.stopWatcher()
			_ = a.system.Shutdown(ctx)
			return fmt.Errorf("start admin: %w", err)
		}
	}

	a.running = true
	a.logger.Info("Application started",
		log.String("configDir", a.settings.ConfigDir),
		log.Bool("watch", a.watcher != nil),
		log.String("admin", a.adminAddr()))
	return nil
}

// Run starts the app and blocks until ctx is cancelled, then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return ErrNotRunning
	}
	a.running = false
	a.logger.Info("Stopping application")

	var errs []error
	if a.admin != nil {
		errs = append(errs, a.admin.Stop(ctx))
	}
	a.stopWatcher()
	errs = append(errs, a.system.Shutdown(ctx))
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) stopWatcher() {
	if a.watcher == nil {
		return
	}
	if err := a.watcher.Stop(); err != nil {
		a.logger.Warn("Stopping watcher failed", log.Error(err))
	}
}

func (a *App) adminAddr() string {
	if a.admin == nil {
		return ""
	}
	return a.admin.Addr()
}

// readOnlyStorage drops writes so a check never touches the configuration
// directory, even when documents are missing.
type readOnlyStorage struct {
	*config.FileStorage
}

func (readOnlyStorage) Write(string, []byte) error { return nil }

// Check loads and validates the configuration offline, without metrics,
// watcher or admin server, and leaves the files untouched.
func Check(ctx context.Context, s Settings, logger log.Log) (integration.Report, error) {
	storage, err := ProvideFileStorage(s)
	if err != nil {
		return integration.Report{}, err
	}
	system := integration.New(integration.Deps{
		Registry:      registry.New(logger),
		Store:         newStore(s, readOnlyStorage{storage}, logger, nil),
		Telemetry:     telemetry.New(logger),
		Logger:        logger,
		Documents:     s.Documents,
		Registrations: integration.Builtin(),
	})

	initErr := system.Initialize(ctx)
	if !system.Initialized() {
		return integration.Report{}, fmt.Errorf("initialize: %w", initErr)
	}
	defer func() { _ = system.Shutdown(context.Background()) }()

	report := system.Validate()
	checkFiles(s, storage, &report)
	if initErr != nil {
		report.OK = false
	}
	return report, initErr
}

// checkFiles validates the bytes on disk. The store replaces unusable files
// with a fallback in memory, so its own view can look valid when they are not.
func checkFiles(s Settings, storage *config.FileStorage, report *integration.Report) {
	schemas := config.NewSchemaLoader(os.DirFS(s.SchemaDir))
	for _, d := range s.Documents {
		res := checkFile(storage, schemas, d)
		report.Documents[d.Name] = report.Documents[d.Name].Merge(res)
		report.OK = report.OK && report.Documents[d.Name].Valid
	}
}

func checkFile(storage *config.FileStorage, schemas config.SchemaLoader, d integration.DocumentSpec) config.ValidationResult {
	raw, err := storage.Read(d.Name)
	if errors.Is(err, config.ErrDocumentNotFound) {
		res := config.Valid()
		res.Warnings = []string{fmt.Sprintf("%s does not exist and would be created", storage.Path(d.Name))}
		return res
	}
	if err != nil {
		return config.Invalid(err.Error())
	}
	doc, err := storage.Codec().Decode(raw)
	if err != nil {
		return config.Invalid(fmt.Sprintf("%s: %v", storage.Path(d.Name), err))
	}
	if d.Schema == "" {
		return config.Valid()
	}
	schema, err := schemas.Load(d.Schema)
	if err != nil {
		return config.Invalid(err.Error())
	}
	config.StampVersion(d.Name, doc)
	return schema.Validate(doc)
}
