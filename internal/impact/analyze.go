package impact

import (
	"fmt"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Impact is an advisory finding about a proposed change. Only errors block
// acceptance.
type Impact struct {
	Type    Level  `json:"type" enum:"error,warning,info"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

// HasErrors reports whether any impact blocks acceptance.
func HasErrors(impacts []Impact) bool {
	for _, im := range impacts {
		if im.Type == LevelError {
			return true
		}
	}
	return false
}

func errorf(taskID, format string, args ...any) Impact {
	return Impact{Type: LevelError, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

func warnf(taskID, format string, args ...any) Impact {
	return Impact{Type: LevelWarning, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

func infof(taskID, format string, args ...any) Impact {
	return Impact{Type: LevelInfo, TaskID: taskID, Message: fmt.Sprintf(format, args...)}
}

// AnalyzeAssigneeImpact checks the vendor exists and flags date overlap with
// the vendor's other active assignments.
func AnalyzeAssigneeImpact(doc *domain.Document, taskID, vendorRef string) []Impact {
	vendorRef = domain.VendorRef(vendorRef)
	vendorID, _ := domain.ParseVendorRef(vendorRef)
	vendor := findVendor(doc, vendorID)
	if vendor == nil {
		return []Impact{errorf(taskID, "Unknown vendor %q", vendorID)}
	}
	task, _ := graph.FindTask(doc, taskID)
	if task == nil {
		return []Impact{errorf(taskID, "Task %q does not exist", taskID)}
	}
	if task.Start == "" || task.End == "" {
		return []Impact{infof(taskID, "%s has no dates, so overlap with %s's other work cannot be checked", task.Name, vendor.Name)}
	}
	var out []Impact
	for _, other := range graph.FindTasksByVendor(doc, vendorRef) {
		if other.ID == task.ID || other.Start == "" || other.End == "" {
			continue
		}
		_, parent := graph.FindTask(doc, other.ID)
		if parent == task || domain.EffectiveStatus(other, parent).IsDone() {
			continue
		}
		if other.Start <= task.End && task.Start <= other.End {
			out = append(out, warnf(other.ID, "%s is already on %s (%s to %s), which overlaps %s to %s",
				vendor.Name, other.Name, other.Start, other.End, task.Start, task.End))
		}
	}
	if len(out) == 0 {
		out = append(out, infof(taskID, "%s has no overlapping assignments", vendor.Name))
	}
	return out
}

// AnalyzeDateRangeImpact compares proposed dates with the task's
// dependencies and with the tasks that depend on it.
func AnalyzeDateRangeImpact(doc *domain.Document, taskID, start, end string) []Impact {
	task, _ := graph.FindTask(doc, taskID)
	if task == nil {
		return []Impact{errorf(taskID, "Task %q does not exist", taskID)}
	}
	var out []Impact
	if start != "" && end != "" && start > end {
		out = append(out, errorf(taskID, "Proposed start %s is after proposed end %s", start, end))
	}
	if start != "" {
		for _, id := range task.Dependencies {
			dep, _ := graph.FindTask(doc, id)
			switch {
			case dep == nil:
				out = append(out, warnf(id, "Dependency %q does not exist", id))
			case dep.End == "":
				out = append(out, warnf(dep.ID, "Dependency %s has no end date", dep.Name))
			case dep.End >= start:
				out = append(out, errorf(dep.ID, "Dependency %s ends %s, on or after proposed start %s", dep.Name, dep.End, start))
			default:
				out = append(out, infof(dep.ID, "Dependency %s ends %s, before proposed start %s", dep.Name, dep.End, start))
			}
		}
	}
	if end != "" {
		for _, d := range graph.FindDependentTasks(doc, taskID) {
			dt, parent := graph.FindTask(doc, d.ID)
			if dt == nil || dt.Start == "" || domain.EffectiveStatus(dt, parent).IsDone() {
				continue
			}
			blockedNow := task.End != "" && dt.Start <= task.End
			if dt.Start <= end && !blockedNow {
				out = append(out, warnf(dt.ID, "%s starts %s, on or before the proposed end %s, and would be blocked", dt.Name, dt.Start, end))
			}
		}
	}
	return out
}

// AnalyzeDependencyImpact checks candidate dependencies for taskID. Only
// direct two-task cycles are detected; graph.FindCycle does the full search.
func AnalyzeDependencyImpact(doc *domain.Document, taskID string, candidates []string) []Impact {
	task, _ := graph.FindTask(doc, taskID)
	if task == nil {
		return []Impact{errorf(taskID, "Task %q does not exist", taskID)}
	}
	var out []Impact
	for _, id := range candidates {
		if id == taskID {
			out = append(out, errorf(id, "%s cannot depend on itself", task.Name))
			continue
		}
		dep, _ := graph.FindTask(doc, id)
		if dep == nil {
			out = append(out, errorf(id, "Task %q does not exist", id))
			continue
		}
		if graph.DependsDirectly(doc, id, taskID) {
			out = append(out, errorf(id, "Circular dependency: %s already depends on %s", dep.Name, task.Name))
		}
		if dep.Start == "" && dep.End == "" {
			out = append(out, warnf(id, "%s is not scheduled", dep.Name))
		}
		for _, existing := range task.Dependencies {
			if existing == id {
				out = append(out, infof(id, "%s is already a dependency", dep.Name))
				break
			}
		}
	}
	return out
}

// Analyze runs the analysis matching the issue's response.
func Analyze(doc *domain.Document, is domain.Issue) []Impact {
	switch r := is.Response.(type) {
	case domain.AssigneeResponse:
		if is.RelatedMaterial != "" {
			id, _ := domain.ParseVendorRef(domain.VendorRef(r.VendorID))
			if findVendor(doc, id) == nil {
				return []Impact{errorf(is.RelatedTask, "Unknown vendor %q", id)}
			}
			return nil
		}
		return AnalyzeAssigneeImpact(doc, is.RelatedTask, r.VendorID)
	case domain.DateRangeResponse:
		return AnalyzeDateRangeImpact(doc, is.RelatedTask, r.Start, r.End)
	case domain.DateResponse:
		if is.RelatedMaterial != "" {
			return nil
		}
		task, _ := graph.FindTask(doc, is.RelatedTask)
		if task == nil {
			return []Impact{errorf(is.RelatedTask, "Task %q does not exist", is.RelatedTask)}
		}
		return AnalyzeDateRangeImpact(doc, task.ID, task.Start, r.Date)
	case domain.DependencyResponse:
		return AnalyzeDependencyImpact(doc, is.RelatedTask, r.TaskIDs)
	}
	return nil
}

func findVendor(doc *domain.Document, id string) *domain.Vendor {
	for i := range doc.Vendors {
		if doc.Vendors[i].ID == id {
			return &doc.Vendors[i]
		}
	}
	return nil
}
