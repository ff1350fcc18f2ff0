package validate

import (
	"fmt"
	"strings"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

// Warnings returns non-fatal findings. They are reported alongside Validate
// errors but never block persistence.
func Warnings(doc *domain.Document) []string {
	if doc == nil {
		return nil
	}
	var out []string
	embedded := map[string]bool{}
	visit := func(fn func(t, parent *domain.Task)) {
		for i := range doc.Tasks {
			fn(&doc.Tasks[i], nil)
			for j := range doc.Tasks[i].Subtasks {
				fn(&doc.Tasks[i].Subtasks[j], &doc.Tasks[i])
			}
		}
	}
	visit(func(t, _ *domain.Task) {
		for _, md := range t.MaterialDependencies {
			if md.Material != nil {
				embedded[md.Material.ID] = true
			}
		}
	})
	visit(func(t, parent *domain.Task) {
		if domain.EffectiveStatus(t, parent) == domain.TaskScheduled && t.Start == "" && t.End == "" {
			out = append(out, fmt.Sprintf("Task %s is scheduled but has no dates", t.ID))
		}
		for _, md := range t.MaterialDependencies {
			if md.Material == nil {
				if !embedded[md.Ref] {
					out = append(out, fmt.Sprintf("Task %s references material %q that is not defined on any task", t.ID, md.Ref))
				}
				continue
			}
			m := md.Material
			if m.Status == domain.MaterialOrdered && m.ExpectedDate == "" {
				out = append(out, fmt.Sprintf("Material %s (%s) is ordered but has no expected date", m.ID, m.Name))
			}
		}
	})
	inCycle := map[string]bool{}
	for _, e := range graph.AllTasks(doc) {
		if inCycle[e.Task.ID] {
			continue
		}
		path := graph.FindCycle(doc, e.Task.ID, e.Task.Dependencies)
		if path == nil {
			continue
		}
		for _, id := range path {
			inCycle[id] = true
		}
		out = append(out, "Dependency cycle: "+strings.Join(path, " -> "))
	}
	return out
}
