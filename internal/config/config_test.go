package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hometrack/internal/config"
	"hometrack/internal/detect"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("Maple St")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.Name != "Maple St" || cfg.Document != "data/project.json" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Similarity.NameThreshold != 0.70 || cfg.Similarity.TaskThreshold != 0.50 {
		t.Fatalf("thresholds: %+v", cfg.Similarity)
	}
	if cfg.Server.BasePath != "/v0" || cfg.Questions.DefaultAssignee != "owner" {
		t.Fatalf("server/questions: %+v %+v", cfg.Server, cfg.Questions)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := config.FromYAML([]byte("project:\n  name: Cabin\ndetection:\n  rules: [past-due, material-overdue]\n"))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.Document != "data/project.json" || cfg.Similarity.QuestionThreshold != 0.50 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	rules := cfg.DetectionRules()
	if len(rules) != 2 || rules[0] != detect.PastDue || rules[1] != detect.MaterialOverdue {
		t.Fatalf("rules = %v", rules)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"project.name":      "document: x.json\n",
		"default_assignee":  "project:\n  name: a\nquestions:\n  default_assignee: dog\n",
		"task_threshold":    "project:\n  name: a\nsimilarity:\n  task_threshold: 1.5\n",
		"unknown rule":      "project:\n  name: a\ndetection:\n  rules: [gremlins]\n",
		"base_path":         "project:\n  name: a\nserver:\n  base_path: v0\n",
		"config.log.format": "project:\n  name: a\nlog:\n  format: xml\n",
	}
	for want, yml := range cases {
		_, err := config.FromYAML([]byte(yml))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("expected error mentioning %q, got %v", want, err)
		}
	}
}

func TestLoadPrefersYAMLThenTOML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional = %v, %v", cfg, err)
	}

	tomlData := "document = \"plans/house.json\"\n\n[project]\nname = \"Cabin\"\n\n[similarity]\nname_threshold = 0.8\ntask_threshold = 0.5\nquestion_threshold = 0.5\n"
	if err := os.WriteFile(filepath.Join(dir, config.TOMLFileName), []byte(tomlData), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Project.Name != "Cabin" || cfg.Similarity.NameThreshold != 0.8 {
		t.Fatalf("toml config = %+v", cfg)
	}
	if got := cfg.DocumentPath(dir); got != filepath.Join(dir, "plans/house.json") {
		t.Fatalf("DocumentPath = %s", got)
	}

	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("Yaml House")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil || cfg.Project.Name != "Yaml House" {
		t.Fatalf("yaml should win: %+v %v", cfg, err)
	}
}

func TestFromTOMLRejectsUnknownKeys(t *testing.T) {
	if _, err := config.FromTOML([]byte("[project]\nname = \"a\"\ncolour = \"red\"\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.FromFile(filepath.Join(dir, "missing.yml")); !errors.Is(err, config.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	path := filepath.Join(dir, "shared.toml")
	if err := os.WriteFile(path, []byte("document = \"plans/house.json\"\n\n[project]\nname = \"Cabin\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil || cfg.Project.Name != "Cabin" || cfg.Document != "plans/house.json" {
		t.Fatalf("FromFile = %+v, %v", cfg, err)
	}
}
