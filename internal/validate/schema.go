package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/document.schema.json
var documentSchema []byte

const schemaURL = "document.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(documentSchema)); err != nil {
			compileErr = fmt.Errorf("add document schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
	})
	return compiled, compileErr
}

// CheckSchema verifies the JSON shape of a raw document before it is decoded.
// Problems are reported with their location, e.g. "tasks[2].name: ...".
func CheckSchema(raw []byte) []string {
	s, err := schema()
	if err != nil {
		return []string{err.Error()}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := s.Validate(v); err != nil {
		var out []string
		collectSchemaErrors(&out, err)
		return out
	}
	return nil
}

func collectSchemaErrors(out *[]string, err error) {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		*out = append(*out, err.Error())
		return
	}
	if len(ve.Causes) == 0 {
		path := jsonPointerToPath(ve.InstanceLocation)
		if path == "" {
			path = "document"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", path, ve.Message))
		return
	}
	for _, cause := range ve.Causes {
		collectSchemaErrors(out, cause)
	}
}

func jsonPointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "#")
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	path := ""
	for _, part := range strings.Split(ptr, "/") {
		part = strings.ReplaceAll(part, "~1", "/")
		part = strings.ReplaceAll(part, "~0", "~")
		if part == "" {
			continue
		}
		if idx, err := strconv.Atoi(part); err == nil {
			path += fmt.Sprintf("[%d]", idx)
			continue
		}
		if path == "" {
			path = part
		} else {
			path += "." + part
		}
	}
	return path
}
