package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hometrack/internal/domain"
	"hometrack/internal/store"
)

const sampleJSON = `{
  "tasks": [
    {"id": "demo", "name": "Demo", "status": "completed", "category": "demolition"},
    {"id": "vent", "name": "Install vent", "status": "scheduled", "category": "hvac",
     "dependencies": ["demo"], "materialDependencies": ["mat-duct", {"id": "mat-duct", "name": "Duct", "status": "ordered"}]}
  ],
  "vendors": [],
  "issues": [
    {"id": "q1", "type": "date", "prompt": "When?", "status": "answered", "relatedTask": "vent", "response": "next week"}
  ]
}`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	writeFile(t, path, sampleJSON)

	doc, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Tasks) != 2 || doc.Tasks[1].MaterialDependencies[0].Ref != "mat-duct" {
		t.Fatalf("decoded %+v", doc.Tasks)
	}
	if _, ok := doc.Issues[0].Response.(domain.LegacyFreeTextResponse); !ok {
		t.Fatalf("legacy response decoded as %T", doc.Issues[0].Response)
	}

	doc.Tasks[1].Notes = "use rigid duct"
	if err := store.Save(path, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := store.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Tasks[1].Notes != "use rigid duct" {
		t.Fatalf("notes not persisted")
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"response": "next week"`) {
		t.Fatalf("legacy response not written back as a string:\n%s", raw)
	}
}

func TestSaveRefusesInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	writeFile(t, path, sampleJSON)
	doc, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	doc.Tasks[1].Dependencies = []string{"ghost"}
	doc.Tasks[1].Start = "2026-13-01"

	err = store.Save(path, doc)
	var invalid *store.InvalidDocumentError
	if !errors.As(err, &invalid) || len(invalid.Problems) != 2 {
		t.Fatalf("expected two problems, got %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != sampleJSON {
		t.Fatalf("file was modified after a refused save")
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestLoadReportsSchemaProblems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.json")
	writeFile(t, path, `{"tasks":[{"id":"a"}]}`)
	_, err := store.Load(path)
	var invalid *store.InvalidDocumentError
	if !errors.As(err, &invalid) || !strings.Contains(invalid.Error(), "tasks[0]") {
		t.Fatalf("expected schema problem at tasks[0], got %v", err)
	}
	if _, err := store.Load(filepath.Join(t.TempDir(), "missing.json")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "project.json")
	created, err := store.Init(path)
	if err != nil || !created {
		t.Fatalf("Init = %v, %v", created, err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), `"tasks": []`) {
		t.Fatalf("empty document = %s", raw)
	}
	if created, err := store.Init(path); err != nil || created {
		t.Fatalf("second Init = %v, %v", created, err)
	}
}

func TestSavePreservesFileMode(t *testing.T) {
	dir := t.TempDir()
	doc := &domain.Document{Tasks: []domain.Task{}, Vendors: []domain.Vendor{}, Issues: []domain.Issue{}}

	fresh := filepath.Join(dir, "fresh.json")
	if err := store.Save(fresh, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mode := fileMode(t, fresh); mode != 0o644 {
		t.Fatalf("new file mode = %v", mode)
	}

	shared := filepath.Join(dir, "shared.json")
	writeFile(t, shared, `{"tasks":[],"vendors":[],"issues":[]}`)
	if err := os.Chmod(shared, 0o664); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(shared, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if mode := fileMode(t, shared); mode != 0o664 {
		t.Fatalf("existing file mode = %v", mode)
	}
}

func fileMode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Mode().Perm()
}
