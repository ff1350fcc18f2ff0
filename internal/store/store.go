// Package store reads and writes the project document as one JSON file.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hometrack/internal/domain"
	"hometrack/internal/validate"
)

var ErrNotFound = errors.New("document not found")

// InvalidDocumentError carries every problem that stopped a load or save.
type InvalidDocumentError struct {
	Path     string
	Problems []string
}

func (e *InvalidDocumentError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", e.Path, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems:\n  %s", e.Path, len(e.Problems), strings.Join(e.Problems, "\n  "))
}

// Load reads the document at path. The raw JSON is checked against the
// document schema before decoding.
func Load(path string) (*domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return Decode(path, data)
}

// Decode parses raw document bytes; path is only used in errors.
func Decode(path string, data []byte) (*domain.Document, error) {
	if problems := validate.CheckSchema(data); len(problems) > 0 {
		return nil, &InvalidDocumentError{Path: path, Problems: problems}
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &doc, nil
}

// Encode renders the document the way Save writes it.
func Encode(doc *domain.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save validates doc and, only if it is valid, replaces the file at path.
// The previous file is left untouched on any failure.
func Save(path string, doc *domain.Document) error {
	if problems := validate.Validate(doc); len(problems) > 0 {
		return &InvalidDocumentError{Path: path, Problems: problems}
	}
	data, err := Encode(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// normalized keeps the top-level collections as arrays rather than null.
func normalized(doc *domain.Document) *domain.Document {
	out := *doc
	if out.Tasks == nil {
		out.Tasks = []domain.Task{}
	}
	if out.Vendors == nil {
		out.Vendors = []domain.Vendor{}
	}
	if out.Issues == nil {
		out.Issues = []domain.Issue{}
	}
	return &out
}

// Init writes an empty document unless one already exists.
func Init(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return true, Save(path, &domain.Document{})
}
