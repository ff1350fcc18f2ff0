package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"hometrack/internal/domain"
)

const sampleDoc = `{
  "tasks": [
    {
      "id": "laundry",
      "name": "Laundry room",
      "status": "scheduled",
      "category": "general",
      "assignee": "vendor:acme",
      "materialDependencies": [
        {"id": "mat-vent", "name": "Dryer vent kit", "status": "ordered", "expectedDate": "2026-02-01"},
        "mat-shared"
      ],
      "subtasks": [
        {"id": "laundry-vent", "name": "Install vent", "dependencies": ["laundry-demo"]}
      ]
    }
  ],
  "vendors": [{"id": "acme", "name": "Acme HVAC", "trade": "hvac"}],
  "issues": [
    {"id": "q1", "type": "date-range", "prompt": "When?", "status": "answered",
     "response": {"type": "date-range", "start": "2026-01-10", "end": "2026-01-12"}},
    {"id": "q2", "type": "free-text", "prompt": "Notes?", "status": "answered", "response": "old answer"},
    {"id": "q3", "type": "yes-no", "prompt": "Ordered?", "status": "open"}
  ]
}`

func TestDocumentDecode(t *testing.T) {
	var doc domain.Document
	if err := json.Unmarshal([]byte(sampleDoc), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mats := doc.Tasks[0].MaterialDependencies
	if len(mats) != 2 {
		t.Fatalf("expected 2 material deps, got %d", len(mats))
	}
	if mats[0].Material == nil || mats[0].Material.Status != domain.MaterialOrdered {
		t.Fatalf("expected embedded material, got %+v", mats[0])
	}
	if mats[1].Material != nil || mats[1].ID() != "mat-shared" {
		t.Fatalf("expected bare reference, got %+v", mats[1])
	}

	rng, ok := doc.Issues[0].Response.(domain.DateRangeResponse)
	if !ok || rng.Start != "2026-01-10" || rng.End != "2026-01-12" {
		t.Fatalf("unexpected date-range response %#v", doc.Issues[0].Response)
	}
	legacy, ok := doc.Issues[1].Response.(domain.LegacyFreeTextResponse)
	if !ok || legacy.Text != "old answer" {
		t.Fatalf("expected legacy response, got %#v", doc.Issues[1].Response)
	}
	if doc.Issues[2].Response != nil {
		t.Fatalf("expected no response, got %#v", doc.Issues[2].Response)
	}
}

func TestDocumentEncodeKeepsShapes(t *testing.T) {
	var doc domain.Document
	if err := json.Unmarshal([]byte(sampleDoc), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	for _, want := range []string{`"response":"old answer"`, `"type":"date-range"`, `"mat-shared"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("encoded document missing %s: %s", want, s)
		}
	}
	if strings.Contains(s, `"response":null`) {
		t.Fatalf("unanswered issue should omit response: %s", s)
	}

	var again domain.Document
	if err := json.Unmarshal(out, &again); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if _, ok := again.Issues[0].Response.(domain.DateRangeResponse); !ok {
		t.Fatalf("typed response lost: %#v", again.Issues[0].Response)
	}
	if _, ok := again.Issues[1].Response.(domain.LegacyFreeTextResponse); !ok {
		t.Fatalf("legacy response lost: %#v", again.Issues[1].Response)
	}
}

func TestUnmarshalResponseRejectsUnknownType(t *testing.T) {
	if _, err := domain.UnmarshalResponse([]byte(`{"type":"colour"}`)); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := domain.UnmarshalResponse([]byte(`{"value":true}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	r, err := domain.UnmarshalResponse([]byte(`{"type":"yes-no","value":true}`))
	if err != nil {
		t.Fatalf("decode yes-no: %v", err)
	}
	if yn, ok := r.(domain.YesNoResponse); !ok || !yn.Value {
		t.Fatalf("unexpected %#v", r)
	}
}

func TestEffectiveFieldsInheritFromParent(t *testing.T) {
	parent := &domain.Task{ID: "p", Status: domain.TaskCompleted, Category: "plumbing", Assignee: "vendor:v1"}
	sub := &domain.Task{ID: "s"}
	if got := domain.EffectiveStatus(sub, parent); got != domain.TaskCompleted {
		t.Fatalf("status %q", got)
	}
	if got := domain.EffectiveCategory(sub, parent); got != "plumbing" {
		t.Fatalf("category %q", got)
	}
	if got := domain.EffectiveAssignee(sub, parent); got != "vendor:v1" {
		t.Fatalf("assignee %q", got)
	}
	sub.Assignee = "vendor:v2"
	if got := domain.EffectiveAssignee(sub, parent); got != "vendor:v2" {
		t.Fatalf("explicit assignee lost: %q", got)
	}
}
