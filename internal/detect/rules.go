package detect

import (
	"fmt"
	"strings"

	"hometrack/internal/domain"
)

// Rule is one detection rule. The set is closed; every switch over Rule
// covers all of them.
type Rule int

const (
	ScheduleConflict Rule = iota
	PastDue
	UnscheduledBlocker
	MaterialOverdue
)

// Rules lists every rule in evaluation order.
var Rules = []Rule{ScheduleConflict, PastDue, UnscheduledBlocker, MaterialOverdue}

// Scope says which entities a rule is evaluated against.
type Scope int

const (
	ScopeTask Scope = iota
	ScopeMaterial
)

func (r Rule) String() string {
	switch r {
	case ScheduleConflict:
		return "schedule-conflict"
	case PastDue:
		return "past-due"
	case UnscheduledBlocker:
		return "unscheduled-blocker"
	case MaterialOverdue:
		return "material-overdue"
	}
	return fmt.Sprintf("rule(%d)", int(r))
}

// ParseRule maps a rule name back to its Rule.
func ParseRule(name string) (Rule, bool) {
	for _, r := range Rules {
		if r.String() == name {
			return r, true
		}
	}
	return 0, false
}

func (r Rule) Scope() Scope {
	switch r {
	case ScheduleConflict, PastDue, UnscheduledBlocker:
		return ScopeTask
	case MaterialOverdue:
		return ScopeMaterial
	}
	return ScopeTask
}

func (r Rule) Category() domain.ActionCategory {
	switch r {
	case ScheduleConflict, PastDue:
		return domain.ActionSchedule
	case UnscheduledBlocker:
		return domain.ActionBlocker
	case MaterialOverdue:
		return domain.ActionMaterial
	}
	return domain.ActionInfo
}

// IssueType is the question type raised for a match; its answer feeds the
// apply engine directly.
func (r Rule) IssueType() domain.IssueType {
	switch r {
	case ScheduleConflict, PastDue, UnscheduledBlocker:
		return domain.IssueDateRange
	case MaterialOverdue:
		return domain.IssueDate
	}
	return domain.IssueNotification
}

// IssueID is the deterministic id of the issue rule r raises for entityID.
func IssueID(r Rule, entityID string) string {
	return "id-" + r.String() + "-" + entityID
}

// draft is what a matching predicate contributes to a new issue.
type draft struct {
	entityID        string
	prompt          string
	relatedTask     string
	relatedMaterial string
}

// taskSubject is a task or subtask with the context its rules need.
type taskSubject struct {
	task     *domain.Task
	status   domain.TaskStatus
	lookup   func(id string) *domain.Task
	blocking []*domain.Task
	today    string
}

type materialSubject struct {
	material *domain.Material
	owner    *domain.Task
	today    string
}

func (r Rule) matchTask(s taskSubject) (draft, bool) {
	switch r {
	case ScheduleConflict:
		return scheduleConflict(s)
	case PastDue:
		return pastDue(s)
	case UnscheduledBlocker:
		return unscheduledBlocker(s)
	case MaterialOverdue:
		return draft{}, false
	}
	return draft{}, false
}

func (r Rule) matchMaterial(s materialSubject) (draft, bool) {
	switch r {
	case MaterialOverdue:
		return materialOverdue(s)
	case ScheduleConflict, PastDue, UnscheduledBlocker:
		return draft{}, false
	}
	return draft{}, false
}

func scheduleConflict(s taskSubject) (draft, bool) {
	t := s.task
	if t.Start == "" || len(t.Dependencies) == 0 || s.status.IsDone() {
		return draft{}, false
	}
	var conflicts []string
	for _, id := range t.Dependencies {
		dep := s.lookup(id)
		if dep == nil || dep.End == "" {
			continue
		}
		if dep.End > t.Start {
			conflicts = append(conflicts, fmt.Sprintf("%s (ends %s)", dep.Name, dep.End))
		}
	}
	if len(conflicts) == 0 {
		return draft{}, false
	}
	return draft{
		entityID:    t.ID,
		relatedTask: t.ID,
		prompt: fmt.Sprintf("%q starts %s but depends on work that ends later: %s. When should it be scheduled?",
			t.Name, t.Start, strings.Join(conflicts, ", ")),
	}, true
}

func pastDue(s taskSubject) (draft, bool) {
	t := s.task
	if t.End == "" || t.End >= s.today || s.status.IsDone() {
		return draft{}, false
	}
	return draft{
		entityID:    t.ID,
		relatedTask: t.ID,
		prompt:      fmt.Sprintf("%q was due %s and is not completed. What are the new dates?", t.Name, t.End),
	}, true
}

func unscheduledBlocker(s taskSubject) (draft, bool) {
	t := s.task
	if t.Start != "" || t.End != "" || s.status.IsDone() || len(s.blocking) == 0 {
		return draft{}, false
	}
	names := make([]string, 0, len(s.blocking))
	for _, b := range s.blocking {
		names = append(names, b.Name)
	}
	return draft{
		entityID:    t.ID,
		relatedTask: t.ID,
		prompt:      fmt.Sprintf("%q has no dates but blocks: %s. When will it happen?", t.Name, strings.Join(names, ", ")),
	}, true
}

func materialOverdue(s materialSubject) (draft, bool) {
	m := s.material
	if m.Status == domain.MaterialOnHand || m.ExpectedDate == "" || m.ExpectedDate >= s.today {
		return draft{}, false
	}
	d := draft{
		entityID:        m.ID,
		relatedMaterial: m.ID,
		prompt:          fmt.Sprintf("%s was expected %s and is not on hand. When will it arrive?", m.Name, m.ExpectedDate),
	}
	if s.owner != nil {
		d.relatedTask = s.owner.ID
	}
	return d, true
}
