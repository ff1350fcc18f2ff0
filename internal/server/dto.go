package server

import (
	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

// Request payloads

type AnswerRequest struct {
	// Response is a type-tagged object, or a bare string for free text.
	Response any `json:"response"`
}

type RejectRequest struct {
	Reason   string `json:"reason" minLength:"1"`
	FollowUp string `json:"follow_up,omitempty"`
}

// Response payloads

type output[T any] struct {
	Body T
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type TaskSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Parent   string            `json:"parent,omitempty"`
	Status   domain.TaskStatus `json:"status"`
	Category domain.Category   `json:"category"`
	Priority domain.Priority   `json:"priority,omitempty"`
	Start    string            `json:"start,omitempty"`
	End      string            `json:"end,omitempty"`
	Assignee string            `json:"assignee,omitempty"`
	Blockers int               `json:"blockers"`
}

type TaskListResponse struct {
	Items []TaskSummary `json:"items"`
}

type DependentsResponse struct {
	TaskID string            `json:"task_id"`
	Items  []graph.Dependent `json:"items"`
}

type VendorResponse struct {
	domain.Vendor
	Tasks []string `json:"tasks"`
}

type IssueListResponse struct {
	Items []domain.Issue `json:"items"`
}

type EventListResponse struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type DetectionRunListResponse struct {
	Items []domain.DetectionRun `json:"items"`
}

func taskSummary(e graph.Entry, doc *domain.Document) TaskSummary {
	s := TaskSummary{
		ID:       e.Task.ID,
		Name:     e.Task.Name,
		Status:   domain.EffectiveStatus(e.Task, e.Parent),
		Category: domain.EffectiveCategory(e.Task, e.Parent),
		Priority: e.Task.Priority,
		Start:    e.Task.Start,
		End:      e.Task.End,
		Assignee: domain.EffectiveAssignee(e.Task, e.Parent),
	}
	if e.Parent != nil {
		s.Parent = e.Parent.ID
	}
	for _, dep := range e.Task.Dependencies {
		if t, parent := graph.FindTask(doc, dep); t != nil && !domain.EffectiveStatus(t, parent).IsDone() {
			s.Blockers++
		}
	}
	return s
}
