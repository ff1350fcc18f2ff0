package impact_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"hometrack/internal/domain"
	"hometrack/internal/impact"
	"hometrack/internal/lifecycle"
)

func fixedNow() time.Time { return time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC) }

func opts() impact.Options {
	return impact.Options{Now: fixedNow, NewID: func() string { return "follow-1" }}
}

func testDoc() *domain.Document {
	return &domain.Document{
		Vendors: []domain.Vendor{
			{ID: "sparky", Name: "Sparky Electric", Trade: "electrical"},
			{ID: "pipes", Name: "Pipes R Us", Trade: "plumbing"},
		},
		Tasks: []domain.Task{
			{ID: "task-b", Name: "Rough-in wiring", Status: domain.TaskScheduled, Category: "electrical",
				Start: "2026-01-26", End: "2026-01-30", Assignee: "vendor:sparky"},
			{ID: "task-a", Name: "Insulate walls", Status: domain.TaskScheduled, Category: "general",
				Start: "2026-01-25", End: "2026-02-02", Dependencies: []string{"task-b"}},
			{ID: "kitchen", Name: "Kitchen lights", Status: domain.TaskNeedsScheduled, Category: "electrical",
				Subtasks: []domain.Task{
					{ID: "kitchen-cans", Name: "Recessed cans"},
					{ID: "kitchen-pendants", Name: "Pendants", Assignee: "vendor:pipes"},
				},
				MaterialDependencies: []domain.MaterialDependency{
					{Material: &domain.Material{ID: "m-cans", Name: "LED cans", Status: domain.MaterialNeedToOrder, Quantity: "8", Detail: "6in"}},
				}},
			{ID: "floor", Name: "Refinish floor", Status: domain.TaskScheduled, Category: "flooring",
				Start: "2026-02-05", End: "2026-02-07", Dependencies: []string{"task-a"}},
			{ID: "unsched", Name: "Buy fixtures", Status: domain.TaskNeedsScheduled, Category: "general"},
		},
	}
}

func hasImpact(list []impact.Impact, level impact.Level, substr string) bool {
	for _, im := range list {
		if im.Type == level && strings.Contains(im.Message, substr) {
			return true
		}
	}
	return false
}

func TestAnalyzeDependencyImpactDirectCycle(t *testing.T) {
	doc := testDoc()
	doc.Tasks[0].Dependencies = []string{"task-a"}
	got := impact.AnalyzeDependencyImpact(doc, "task-a", []string{"task-b"})
	if !hasImpact(got, impact.LevelError, "Circular dependency") {
		t.Fatalf("expected circular dependency error, got %+v", got)
	}
	if !impact.HasErrors(got) {
		t.Fatalf("HasErrors = false")
	}
}

func TestAnalyzeDependencyImpactDirectOnly(t *testing.T) {
	doc := testDoc()
	// floor -> task-a -> task-b; adding task-b -> floor closes a three-task loop
	got := impact.AnalyzeDependencyImpact(doc, "task-b", []string{"floor"})
	if hasImpact(got, impact.LevelError, "Circular dependency") {
		t.Fatalf("only direct cycles are reported here, got %+v", got)
	}
	got = impact.AnalyzeDependencyImpact(doc, "task-a", []string{"unsched", "ghost", "task-a", "task-b"})
	for _, want := range []struct {
		level impact.Level
		text  string
	}{
		{impact.LevelWarning, "Buy fixtures is not scheduled"},
		{impact.LevelError, `Task "ghost" does not exist`},
		{impact.LevelError, "cannot depend on itself"},
		{impact.LevelInfo, "already a dependency"},
	} {
		if !hasImpact(got, want.level, want.text) {
			t.Errorf("missing %s %q in %+v", want.level, want.text, got)
		}
	}
}

func TestAnalyzeDateRangeImpact(t *testing.T) {
	doc := testDoc()
	doc.Tasks[0].End = "2026-01-30"
	got := impact.AnalyzeDateRangeImpact(doc, "task-a", "2026-01-25", "2026-02-02")
	if !hasImpact(got, impact.LevelError, "after proposed start") {
		t.Fatalf("expected dependency error, got %+v", got)
	}

	got = impact.AnalyzeDateRangeImpact(doc, "task-a", "2026-01-31", "2026-02-06")
	if impact.HasErrors(got) {
		t.Fatalf("unexpected errors %+v", got)
	}
	if !hasImpact(got, impact.LevelInfo, "before proposed start") {
		t.Fatalf("expected info, got %+v", got)
	}
	if !hasImpact(got, impact.LevelWarning, "Refinish floor starts 2026-02-05") {
		t.Fatalf("expected newly blocked dependent, got %+v", got)
	}

	got = impact.AnalyzeDateRangeImpact(doc, "task-a", "2026-02-10", "2026-02-01")
	if !hasImpact(got, impact.LevelError, "is after proposed end") {
		t.Fatalf("expected inverted range error, got %+v", got)
	}
}

func TestAnalyzeAssigneeImpact(t *testing.T) {
	doc := testDoc()
	got := impact.AnalyzeAssigneeImpact(doc, "task-a", "sparky")
	if !hasImpact(got, impact.LevelWarning, "Rough-in wiring") {
		t.Fatalf("expected overlap warning, got %+v", got)
	}
	if got := impact.AnalyzeAssigneeImpact(doc, "task-a", "vendor:nobody"); !impact.HasErrors(got) {
		t.Fatalf("unknown vendor should be an error: %+v", got)
	}
	if got := impact.AnalyzeAssigneeImpact(doc, "kitchen", "sparky"); !hasImpact(got, impact.LevelInfo, "no dates") {
		t.Fatalf("undated task: %+v", got)
	}
}

func TestProposedChangesAssigneeIncludesInheritingSubtasks(t *testing.T) {
	doc := testDoc()
	is := domain.Issue{ID: "q", Type: domain.IssueAssignee, RelatedTask: "kitchen",
		Response: domain.AssigneeResponse{VendorID: "sparky"}}
	got, err := impact.ProposedChanges(doc, is)
	if err != nil {
		t.Fatalf("ProposedChanges: %v", err)
	}
	want := []impact.Change{
		{Entity: "task", EntityID: "kitchen", Field: "assignee", OldValue: "", NewValue: "vendor:sparky"},
		{Entity: "task", EntityID: "kitchen-cans", Field: "assignee", OldValue: "", NewValue: "vendor:sparky", Inherited: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("changes = %+v, want %+v", got, want)
	}
	if doc.Tasks[2].Assignee != "" {
		t.Fatalf("ProposedChanges mutated the document")
	}
}

func TestProposedChangesDateRangeSchedules(t *testing.T) {
	doc := testDoc()
	is := domain.Issue{ID: "q", Type: domain.IssueDateRange, RelatedTask: "kitchen",
		Response: domain.DateRangeResponse{Start: "2026-03-01", End: "2026-03-04"}}
	got, err := impact.ProposedChanges(doc, is)
	if err != nil {
		t.Fatalf("ProposedChanges: %v", err)
	}
	if len(got) != 3 || got[2].Field != "status" || got[2].NewValue != domain.TaskScheduled {
		t.Fatalf("changes = %+v", got)
	}
}

func TestApplyDateRangeSchedulesInheritingSubtask(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "q", Type: domain.IssueDateRange, Prompt: "When do the cans go in?", Status: domain.IssueAnswered,
		Assignee: domain.PersonOwner, RelatedTask: "kitchen-cans", Category: domain.ActionSchedule,
		Response: domain.DateRangeResponse{Start: "2026-03-01", End: "2026-03-02"}}}
	if _, err := impact.Apply(doc, "q", opts()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	kitchen := doc.Tasks[2]
	cans := kitchen.Subtasks[0]
	if cans.Status != domain.TaskScheduled || cans.Start != "2026-03-01" || cans.End != "2026-03-02" {
		t.Fatalf("subtask = %+v", cans)
	}
	if kitchen.Status != domain.TaskNeedsScheduled || kitchen.Subtasks[1].Status != "" {
		t.Fatalf("parent or sibling changed: %+v", kitchen)
	}
}

func TestApplyDependencyAndAudit(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "q", Type: domain.IssueDependency, Prompt: "Depends on?", Status: domain.IssueAnswered,
		RelatedTask: "task-a", Response: domain.DependencyResponse{TaskIDs: []string{"task-b", "unsched"}}}}

	res, err := impact.Apply(doc, "q", opts())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if want := []string{"task-b", "unsched"}; !reflect.DeepEqual(doc.Tasks[1].Dependencies, want) {
		t.Fatalf("dependencies = %v", doc.Tasks[1].Dependencies)
	}
	if len(res.Changes) != 1 || res.Changes[0].Field != "dependencies" {
		t.Fatalf("audit = %+v", res.Changes)
	}
	is := doc.Issues[0]
	if is.Status != domain.IssueResolved || is.ReviewStatus != domain.ReviewAccepted ||
		is.ResolvedBy != domain.ResolvedByReview || is.ResolvedAt != "2026-01-20" {
		t.Fatalf("issue = %+v", is)
	}
	if _, err := impact.Apply(doc, "q", opts()); !errors.Is(err, impact.ErrNotReviewable) {
		t.Fatalf("second apply err = %v", err)
	}
}

func TestApplySkipsInheritedChanges(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "q", Type: domain.IssueAssignee, Prompt: "Who?", Status: domain.IssueAnswered,
		RelatedTask: "kitchen", Response: domain.AssigneeResponse{VendorID: "sparky"}}}
	if _, err := impact.Apply(doc, "q", opts()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if doc.Tasks[2].Assignee != "vendor:sparky" {
		t.Fatalf("parent assignee = %q", doc.Tasks[2].Assignee)
	}
	if doc.Tasks[2].Subtasks[0].Assignee != "" || doc.Tasks[2].Subtasks[1].Assignee != "vendor:pipes" {
		t.Fatalf("subtasks written: %+v", doc.Tasks[2].Subtasks)
	}
}

func TestApplyLifecycleOrderedChainsExpectedDate(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "q", Type: domain.IssueYesNo, Prompt: "Ordered?", Status: domain.IssueAnswered,
		Assignee: domain.PersonPartner, RelatedTask: "kitchen", RelatedMaterial: "m-cans",
		Source: domain.SourceAutoLifecycle, LifecycleRule: lifecycle.RuleOrderPlaced,
		Response: domain.YesNoResponse{Value: true}}}

	res, err := impact.Apply(doc, "q", opts())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	m := doc.Tasks[2].MaterialDependencies[0].Material
	if m.Status != domain.MaterialOrdered {
		t.Fatalf("material status = %s", m.Status)
	}
	if len(res.FollowUps) != 1 || len(doc.Issues) != 2 {
		t.Fatalf("follow ups = %+v", res.FollowUps)
	}
	fu := doc.Issues[1]
	if fu.ID != "follow-1" || fu.LifecycleRule != lifecycle.RuleExpectedDate || fu.Type != domain.IssueDate ||
		fu.FollowUpOf != "q" || fu.Assignee != domain.PersonPartner || fu.RelatedTask != "kitchen" {
		t.Fatalf("follow up = %+v", fu)
	}
}

func TestRejectLeavesTasksAlone(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "q", Type: domain.IssueDateRange, Prompt: "When?", Status: domain.IssueAnswered,
		Assignee: domain.PersonOwner, RelatedTask: "kitchen", Category: domain.ActionSchedule,
		Response: domain.DateRangeResponse{Start: "2026-03-01", End: "2026-03-04"}}}
	before := testDoc().Tasks

	res, err := impact.Reject(doc, "q", "contractor unavailable", "Ask the contractor for new dates", opts())
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !reflect.DeepEqual(doc.Tasks, before) {
		t.Fatalf("reject mutated tasks")
	}
	is := doc.Issues[0]
	if is.Status != domain.IssueAnswered || is.ReviewStatus != domain.ReviewRejected || is.RejectionReason != "contractor unavailable" {
		t.Fatalf("issue = %+v", is)
	}
	if res.FollowUp == nil || res.FollowUp.FollowUpOf != "q" || res.FollowUp.Source != domain.SourceManual || len(doc.Issues) != 2 {
		t.Fatalf("follow up = %+v", res.FollowUp)
	}
	// rejected answers stay reviewable
	if _, err := impact.Apply(doc, "q", opts()); err != nil {
		t.Fatalf("re-review: %v", err)
	}
}

func TestApplyErrors(t *testing.T) {
	doc := testDoc()
	doc.Issues = []domain.Issue{{ID: "open", Type: domain.IssueDate, Prompt: "?", Status: domain.IssueOpen}}
	if _, err := impact.Apply(doc, "missing", opts()); !errors.Is(err, impact.ErrIssueNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := impact.Apply(doc, "open", opts()); !errors.Is(err, impact.ErrNoResponse) {
		t.Fatalf("err = %v", err)
	}
	doc.Issues[0].Response = domain.DateResponse{Date: "2026-02-01"}
	if _, err := impact.Apply(doc, "open", opts()); !errors.Is(err, impact.ErrNoTarget) {
		t.Fatalf("err = %v", err)
	}
}
