package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"hometrack/internal/detect"
	"hometrack/internal/domain"
)

const (
	FileName     = "hometrack.yml"
	TOMLFileName = "hometrack.toml"
)

var ErrNotFound = errors.New("config not found")

// Config models hometrack.yml. hometrack.toml uses the same keys.
type Config struct {
	Project struct {
		Name string `yaml:"name" toml:"name"`
	} `yaml:"project" toml:"project"`
	Document  string `yaml:"document" toml:"document"`
	Questions struct {
		DefaultAssignee string `yaml:"default_assignee" toml:"default_assignee"`
	} `yaml:"questions" toml:"questions"`
	Similarity struct {
		NameThreshold     float64 `yaml:"name_threshold" toml:"name_threshold"`
		TaskThreshold     float64 `yaml:"task_threshold" toml:"task_threshold"`
		QuestionThreshold float64 `yaml:"question_threshold" toml:"question_threshold"`
	} `yaml:"similarity" toml:"similarity"`
	Detection struct {
		Rules []string `yaml:"rules" toml:"rules"`
	} `yaml:"detection" toml:"detection"`
	Server struct {
		Addr      string `yaml:"addr" toml:"addr"`
		BasePath  string `yaml:"base_path" toml:"base_path"`
		JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	} `yaml:"server" toml:"server"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
}

// LoadOptional reads config from workspace, preferring hometrack.yml over
// hometrack.toml. It returns nil,nil if neither file exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err == nil {
		return FromYAML(data)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	data, err = os.ReadFile(TOMLPath(workspace))
	if err == nil {
		return FromTOML(data)
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	return nil, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("config.project.name is required")
	}
	if c.Document == "" {
		return fmt.Errorf("config.document is required")
	}
	if a := c.Questions.DefaultAssignee; a != "" && !domain.OneOf(domain.Person(a), domain.People) {
		return fmt.Errorf("config.questions.default_assignee %q is not one of %v", a, domain.People)
	}
	for name, v := range map[string]float64{
		"name_threshold":     c.Similarity.NameThreshold,
		"task_threshold":     c.Similarity.TaskThreshold,
		"question_threshold": c.Similarity.QuestionThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("config.similarity.%s must be in (0, 1], got %v", name, v)
		}
	}
	for _, r := range c.Detection.Rules {
		if _, ok := detect.ParseRule(r); !ok {
			return fmt.Errorf("config.detection.rules: unknown rule %q", r)
		}
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Log.Format {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("config.log.format must be text, json or logfmt")
	}
	return nil
}

// DetectionRules returns the configured rule subset; empty means all rules.
func (c *Config) DetectionRules() []detect.Rule {
	var out []detect.Rule
	for _, name := range c.Detection.Rules {
		if r, ok := detect.ParseRule(name); ok {
			out = append(out, r)
		}
	}
	return out
}

// DocumentPath resolves the document path against the workspace.
func (c *Config) DocumentPath(workspace string) string {
	if filepath.IsAbs(c.Document) {
		return c.Document
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Document)
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

func TOMLPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, TOMLFileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectName string) string {
	return fmt.Sprintf(defaultTemplate, projectName)
}

// Default returns the default Config struct for a project.
func Default(projectName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default("")
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("invalid config toml: unknown key %s", undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from the given path, choosing the parser by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  name: %q

document: data/project.json

questions:
  default_assignee: owner

similarity:
  name_threshold: 0.70
  task_threshold: 0.50
  question_threshold: 0.50

detection:
  rules: []

server:
  addr: 127.0.0.1:8787
  base_path: /v0
  jwt_secret: ""

log:
  level: info
  format: text
`
