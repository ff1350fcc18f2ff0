package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hometrack/internal/app"
	"hometrack/internal/config"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/events"
	"hometrack/internal/repo"
	"hometrack/internal/store"
)

func newTestSession(t *testing.T) *app.Session {
	t.Helper()
	ctx := context.Background()
	s, err := app.Open(ctx, app.Options{Workspace: t.TempDir(), ActorID: "tester"})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	s.Now = func() time.Time { return time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC) }
	if created, err := s.Init(ctx); err != nil || !created {
		t.Fatalf("init = %v, %v", created, err)
	}
	return s
}

func TestInitWritesConfigAndDocument(t *testing.T) {
	s := newTestSession(t)
	if cfg, err := config.LoadOptional(s.Workspace); err != nil || cfg == nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := os.Stat(s.DocumentPath()); err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if created, err := s.Init(context.Background()); err != nil || created {
		t.Fatalf("second init = %v, %v", created, err)
	}
}

func TestMutateSavesAndAudits(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	err := s.Mutate(ctx, func(eng engine.Engine, doc *domain.Document) error {
		_, err := eng.AddTask(doc, engine.TaskCreateOptions{Name: "Clean gutters", Category: "exterior"})
		return err
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	doc, err := s.Load()
	if err != nil || len(doc.Tasks) != 1 || doc.Tasks[0].ID != "clean-gutters" {
		t.Fatalf("doc = %+v, %v", doc, err)
	}
	evts, err := s.Repo().LatestEvents(ctx, repo.EventFilters{EntityKind: "task"})
	if err != nil || len(evts) != 1 || evts[0].Type != events.TaskCreated || evts[0].ActorID != "tester" {
		t.Fatalf("events = %+v, %v", evts, err)
	}
}

func TestMutateRefusesInvalidResult(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	before, _ := os.ReadFile(s.DocumentPath())
	err := s.Mutate(ctx, func(eng engine.Engine, doc *domain.Document) error {
		doc.Tasks = append(doc.Tasks, domain.Task{ID: "x", Name: "Broken", Status: "nope", Category: "general"})
		return nil
	})
	var invalid *store.InvalidDocumentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid document, got %v", err)
	}
	after, _ := os.ReadFile(s.DocumentPath())
	if string(before) != string(after) {
		t.Fatalf("document changed after refused save")
	}
	evts, _ := s.Repo().LatestEvents(ctx, repo.EventFilters{EntityKind: "task"})
	if len(evts) != 0 {
		t.Fatalf("refused mutation was audited: %+v", evts)
	}
}

func TestDetectRecordsRun(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	err := s.Mutate(ctx, func(eng engine.Engine, doc *domain.Document) error {
		doc.Tasks = append(doc.Tasks, domain.Task{
			ID: "gutters", Name: "Clean gutters", Status: domain.TaskScheduled, Category: "exterior",
			Start: "2026-04-01", End: "2026-04-02",
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Detect(ctx)
	if err != nil || res.Created != 1 {
		t.Fatalf("detect = %+v, %v", res, err)
	}
	runs, err := s.Repo().ListDetectionRuns(ctx, 0)
	if err != nil || len(runs) != 1 || runs[0].ReferenceDate != "2026-05-04" || runs[0].Created != 1 {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
	report, err := s.Validate()
	if err != nil || !report.OK() {
		t.Fatalf("validate = %+v, %v", report, err)
	}
}

func TestDetectAsOfUsesReferenceDate(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	err := s.Mutate(ctx, func(eng engine.Engine, doc *domain.Document) error {
		doc.Tasks = append(doc.Tasks, domain.Task{
			ID: "gutters", Name: "Clean gutters", Status: domain.TaskScheduled, Category: "exterior",
			Start: "2026-04-01", End: "2026-04-02",
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.DetectAsOf(ctx, time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC))
	if err != nil || res.Created != 0 {
		t.Fatalf("detect = %+v, %v", res, err)
	}
	runs, err := s.Repo().ListDetectionRuns(ctx, 1)
	if err != nil || len(runs) != 1 || runs[0].ReferenceDate != "2026-03-30" {
		t.Fatalf("runs = %+v, %v", runs, err)
	}
}

func TestOpenWithExplicitConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "shared.toml")
	if err := os.WriteFile(cfgPath, []byte("document = \"plans/house.json\"\n\n[project]\nname = \"Cabin\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := app.Open(ctx, app.Options{Workspace: dir, ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Config.Project.Name != "Cabin" || s.DocumentPath() != filepath.Join(dir, "plans/house.json") {
		t.Fatalf("config = %+v", s.Config)
	}
	if _, err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(config.Path(dir)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("init wrote a workspace config next to an explicit one: %v", err)
	}

	if _, err := app.Open(ctx, app.Options{Workspace: dir, ConfigPath: filepath.Join(dir, "nope.yml")}); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("missing config = %v", err)
	}
}
