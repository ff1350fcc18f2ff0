// Package graph answers dependency questions over a document. Every call
// rescans the document; nothing is cached.
package graph

import "hometrack/internal/domain"

// Entry is a task together with its parent (nil for top-level tasks).
type Entry struct {
	Task   *domain.Task
	Parent *domain.Task
}

// AllTasks flattens top-level tasks and their subtasks in document order.
func AllTasks(doc *domain.Document) []Entry {
	var out []Entry
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		out = append(out, Entry{Task: t})
		for j := range t.Subtasks {
			out = append(out, Entry{Task: &t.Subtasks[j], Parent: t})
		}
	}
	return out
}

// FindTask locates a task or subtask by id. Both results are nil when absent.
func FindTask(doc *domain.Document, id string) (task, parent *domain.Task) {
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
			return &doc.Tasks[i], nil
		}
	}
	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		for j := range t.Subtasks {
			if t.Subtasks[j].ID == id {
				return &t.Subtasks[j], t
			}
		}
	}
	return nil, nil
}

// FindMaterial locates an embedded material and the task that owns it.
func FindMaterial(doc *domain.Document, id string) (*domain.Material, *domain.Task) {
	for _, e := range AllTasks(doc) {
		for _, md := range e.Task.MaterialDependencies {
			if md.Material != nil && md.Material.ID == id {
				return md.Material, e.Task
			}
		}
	}
	return nil, nil
}

type Dependent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type" enum:"task,subtask"`
	Parent string `json:"parent,omitempty"`
}

// FindDependentTasks returns every task or subtask listing id as a dependency.
func FindDependentTasks(doc *domain.Document, id string) []Dependent {
	var out []Dependent
	for _, e := range AllTasks(doc) {
		if !contains(e.Task.Dependencies, id) {
			continue
		}
		d := Dependent{ID: e.Task.ID, Name: e.Task.Name, Type: "task"}
		if e.Parent != nil {
			d.Type = "subtask"
			d.Parent = e.Parent.ID
		}
		out = append(out, d)
	}
	return out
}

// FindTasksByVendor returns tasks assigned to vendorRef, including subtasks
// that inherit it from their parent.
func FindTasksByVendor(doc *domain.Document, vendorRef string) []*domain.Task {
	vendorRef = domain.VendorRef(vendorRef)
	var out []*domain.Task
	for _, e := range AllTasks(doc) {
		if domain.EffectiveAssignee(e.Task, e.Parent) == vendorRef {
			out = append(out, e.Task)
		}
	}
	return out
}

// DependsDirectly reports whether task from lists to as a dependency.
func DependsDirectly(doc *domain.Document, from, to string) bool {
	t, _ := FindTask(doc, from)
	return t != nil && contains(t.Dependencies, to)
}

// FindCycle reports the dependency path that adding candidates to taskID's
// dependencies would close, or nil. Unlike the impact analysis check it
// follows chains of any length.
func FindCycle(doc *domain.Document, taskID string, candidates []string) []string {
	for _, c := range candidates {
		if c == taskID {
			return []string{taskID, taskID}
		}
		if path := pathTo(doc, c, taskID, map[string]bool{}); path != nil {
			return append([]string{taskID}, path...)
		}
	}
	return nil
}

// pathTo walks dependencies depth-first from start until it reaches target.
func pathTo(doc *domain.Document, start, target string, seen map[string]bool) []string {
	if start == target {
		return []string{start}
	}
	if seen[start] {
		return nil
	}
	seen[start] = true
	t, _ := FindTask(doc, start)
	if t == nil {
		return nil
	}
	for _, dep := range t.Dependencies {
		if rest := pathTo(doc, dep, target, seen); rest != nil {
			return append([]string{start}, rest...)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
