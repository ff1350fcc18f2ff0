package graph_test

import (
	"reflect"
	"testing"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

func sampleDoc() *domain.Document {
	return &domain.Document{
		Tasks: []domain.Task{
			{ID: "demo", Name: "Demo", Status: domain.TaskCompleted, Assignee: "vendor:crew"},
			{ID: "frame", Name: "Frame walls", Status: domain.TaskScheduled, Assignee: "vendor:crew",
				Dependencies: []string{"demo"},
				Subtasks: []domain.Task{
					{ID: "frame-header", Name: "Header", Dependencies: []string{"demo"}},
					{ID: "frame-blocking", Name: "Blocking", Assignee: "vendor:other"},
				}},
			{ID: "drywall", Name: "Drywall", Dependencies: []string{"frame", "frame-header"},
				MaterialDependencies: []domain.MaterialDependency{
					{Material: &domain.Material{ID: "mat-board", Name: "Board", Status: domain.MaterialOnHand}},
					{Ref: "mat-shared"},
				}},
		},
	}
}

func TestFindTask(t *testing.T) {
	doc := sampleDoc()
	for _, e := range graph.AllTasks(doc) {
		task, parent := graph.FindTask(doc, e.Task.ID)
		if task == nil || task.ID != e.Task.ID {
			t.Fatalf("FindTask(%s) = %v", e.Task.ID, task)
		}
		if parent != e.Parent {
			t.Fatalf("FindTask(%s) parent mismatch", e.Task.ID)
		}
	}
	task, parent := graph.FindTask(doc, "frame-header")
	if parent == nil || parent.ID != "frame" || task.Name != "Header" {
		t.Fatalf("subtask lookup: %v %v", task, parent)
	}
	task, parent = graph.FindTask(doc, "nope")
	if task != nil || parent != nil {
		t.Fatalf("expected (nil, nil), got %v %v", task, parent)
	}
}

func TestFindTaskReturnsPointerIntoDocument(t *testing.T) {
	doc := sampleDoc()
	task, _ := graph.FindTask(doc, "frame-blocking")
	task.Status = domain.TaskInProgress
	if doc.Tasks[1].Subtasks[1].Status != domain.TaskInProgress {
		t.Fatalf("mutation through FindTask did not reach the document")
	}
}

func TestFindDependentTasks(t *testing.T) {
	doc := sampleDoc()
	got := graph.FindDependentTasks(doc, "demo")
	want := []graph.Dependent{
		{ID: "frame", Name: "Frame walls", Type: "task"},
		{ID: "frame-header", Name: "Header", Type: "subtask", Parent: "frame"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dependents = %+v, want %+v", got, want)
	}
	if got := graph.FindDependentTasks(doc, "drywall"); len(got) != 0 {
		t.Fatalf("expected no dependents, got %+v", got)
	}
}

func TestFindTasksByVendor(t *testing.T) {
	doc := sampleDoc()
	var ids []string
	for _, task := range graph.FindTasksByVendor(doc, "crew") {
		ids = append(ids, task.ID)
	}
	want := []string{"demo", "frame", "frame-header"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("vendor tasks = %v, want %v", ids, want)
	}
	if got := graph.FindTasksByVendor(doc, "vendor:other"); len(got) != 1 || got[0].ID != "frame-blocking" {
		t.Fatalf("explicit subtask assignee: %v", got)
	}
}

func TestFindMaterial(t *testing.T) {
	doc := sampleDoc()
	m, owner := graph.FindMaterial(doc, "mat-board")
	if m == nil || owner.ID != "drywall" {
		t.Fatalf("FindMaterial = %v %v", m, owner)
	}
	if m, _ := graph.FindMaterial(doc, "mat-shared"); m != nil {
		t.Fatalf("bare references are not materials")
	}
}

func TestCycles(t *testing.T) {
	doc := sampleDoc()
	if !graph.DependsDirectly(doc, "drywall", "frame") {
		t.Fatalf("expected direct dependency")
	}
	if graph.DependsDirectly(doc, "frame", "drywall") {
		t.Fatalf("unexpected direct dependency")
	}
	// demo -> drywall would close demo <- frame <- drywall
	got := graph.FindCycle(doc, "demo", []string{"drywall"})
	want := []string{"demo", "drywall", "frame", "demo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cycle = %v, want %v", got, want)
	}
	if got := graph.FindCycle(doc, "drywall", []string{"demo"}); got != nil {
		t.Fatalf("no cycle expected, got %v", got)
	}
	if got := graph.FindCycle(doc, "demo", []string{"demo"}); len(got) != 2 {
		t.Fatalf("self dependency should be a cycle, got %v", got)
	}
}
