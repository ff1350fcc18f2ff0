package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"hometrack/internal/config"
	"hometrack/internal/db"
	"hometrack/internal/detect"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/events"
	"hometrack/internal/logging"
	"hometrack/internal/migrate"
	"hometrack/internal/repo"
	"hometrack/internal/store"
	"hometrack/internal/validate"
)

// ResolveConfig loads configPath when set, or else the workspace config,
// falling back to defaults named after the workspace directory when no config
// file exists.
func ResolveConfig(workspace, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.FromFile(configPath)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			abs = workspace
		}
		cfg = config.Default(filepath.Base(abs))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Session owns one workspace: its config, the document file and the audit
// database. Mutations are serialized so the CLI and server can share it.
type Session struct {
	Workspace  string
	ConfigPath string
	Config     *config.Config
	DB         *sql.DB
	ActorID    string
	Logger     *log.Logger
	Now        func() time.Time
	NewID      func() string

	mu sync.Mutex
}

type Options struct {
	Workspace  string
	// ConfigPath overrides the workspace hometrack.yml/hometrack.toml.
	ConfigPath string
	ActorID    string
	Logger     *log.Logger
}

// Open resolves config and opens the migrated audit database.
func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	actor := opts.ActorID
	if actor == "" {
		actor = string(domain.PersonOwner)
	}
	return &Session{
		Workspace:  opts.Workspace,
		ConfigPath: opts.ConfigPath,
		Config:     cfg,
		DB:         conn,
		ActorID:    actor,
		Logger:     logger,
		Now:        time.Now,
		NewID:      uuid.NewString,
	}, nil
}

type actorKey struct{}

// WithActor attributes mutations made with ctx to actorID instead of the
// session default.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func (s *Session) actor(ctx context.Context) string {
	if id, ok := ctx.Value(actorKey{}).(string); ok && id != "" {
		return id
	}
	return s.ActorID
}

func (s *Session) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Session) DocumentPath() string {
	return s.Config.DocumentPath(s.Workspace)
}

func (s *Session) Repo() repo.Repo {
	return repo.Repo{DB: s.DB}
}

func (s *Session) writer() events.Writer {
	return events.Writer{DB: s.DB, Now: s.Now}
}

// Engine returns an engine wired to the session clock and config.
func (s *Session) Engine(rec engine.Recorder) engine.Engine {
	eng := engine.New(s.Config)
	eng.Events = rec
	if s.Now != nil {
		eng.Now = s.Now
	}
	if s.NewID != nil {
		eng.NewID = s.NewID
	}
	return eng
}

// Init writes the workspace config file and an empty document if they are
// missing. An explicit ConfigPath is never written.
// It reports whether the document was created.
func (s *Session) Init(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConfigPath == "" {
		existing, err := config.LoadOptional(s.Workspace)
		if err != nil {
			return false, err
		}
		if existing == nil {
			path := config.Path(s.Workspace)
			if err := os.WriteFile(path, []byte(config.GenerateDefault(s.Config.Project.Name)), 0o644); err != nil {
				return false, fmt.Errorf("write %s: %w", path, err)
			}
			s.Logger.Info("created config", "path", path)
		}
	}
	created, err := store.Init(s.DocumentPath())
	if err != nil {
		return false, err
	}
	if created {
		s.Logger.Info("created document", "path", s.DocumentPath())
		return true, s.writer().AppendAll(ctx, s.actor(ctx), []events.Record{{Type: events.DocumentSaved, EntityKind: "document", Payload: events.EventPayload{"init": true}}})
	}
	return false, nil
}

// Load reads the current document.
func (s *Session) Load() (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Load(s.DocumentPath())
}

// ValidationReport is the result of validating the saved document.
type ValidationReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r ValidationReport) OK() bool { return len(r.Errors) == 0 }

// Validate reports structural errors and referential warnings. Schema
// problems found while loading are returned as errors too.
func (s *Session) Validate() (ValidationReport, error) {
	doc, err := s.Load()
	if err != nil {
		var invalid *store.InvalidDocumentError
		if errors.As(err, &invalid) {
			return ValidationReport{Errors: invalid.Problems}, nil
		}
		return ValidationReport{}, err
	}
	return ValidationReport{
		Errors:   validate.Validate(doc),
		Warnings: validate.Warnings(doc),
	}, nil
}

// Mutate loads the document, runs fn with an engine, and saves the result.
// Nothing is written when fn fails or the result does not validate. Audit
// events are appended after the document is saved.
func (s *Session) Mutate(ctx context.Context, fn func(eng engine.Engine, doc *domain.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(ctx, fn)
}

func (s *Session) mutate(ctx context.Context, fn func(eng engine.Engine, doc *domain.Document) error) error {
	path := s.DocumentPath()
	doc, err := store.Load(path)
	if err != nil {
		return err
	}
	buf := &events.Buffer{}
	if err := fn(s.Engine(buf), doc); err != nil {
		return err
	}
	if err := store.Save(path, doc); err != nil {
		s.Logger.Warn("document not saved", "path", path, "err", err)
		return err
	}
	buf.Record(events.Record{Type: events.DocumentSaved, EntityKind: "document", Payload: events.EventPayload{"path": path}})
	if err := s.writer().AppendAll(ctx, s.actor(ctx), buf.Records); err != nil {
		return fmt.Errorf("document saved but audit log failed: %w", err)
	}
	s.Logger.Debug("document saved", "path", path, "events", len(buf.Records))
	return nil
}

// Detect runs detection as of now, saves the document and records the run
// totals.
func (s *Session) Detect(ctx context.Context) (detect.Result, error) {
	return s.DetectAsOf(ctx, time.Time{})
}

// DetectAsOf is Detect with an explicit reference date. A zero asOf means now.
func (s *Session) DetectAsOf(ctx context.Context, asOf time.Time) (detect.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res detect.Result
	var day string
	err := s.mutate(ctx, func(eng engine.Engine, doc *domain.Document) error {
		if !asOf.IsZero() {
			eng.Now = func() time.Time { return asOf }
		}
		res = eng.RunDetection(doc)
		day = eng.Now().Format(validate.DateLayout)
		return nil
	})
	if err != nil {
		return res, err
	}
	_, err = s.Repo().InsertDetectionRun(ctx, domain.DetectionRun{
		TS:            s.Now().UTC().Format(time.RFC3339),
		ReferenceDate: day,
		Created:       res.Created,
		Resolved:      res.Resolved,
		Refreshed:     res.Refreshed,
		ActorID:       s.actor(ctx),
	})
	if err != nil {
		return res, err
	}
	s.Logger.Info("detection run", "created", res.Created, "resolved", res.Resolved, "refreshed", res.Refreshed)
	return res, nil
}
