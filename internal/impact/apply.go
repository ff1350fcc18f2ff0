// Package impact computes what an answered question would change, analyses
// the consequences, and applies or rejects the answer.
package impact

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
	"hometrack/internal/lifecycle"
)

const dateLayout = "2006-01-02"

const (
	EntityTask     = "task"
	EntityMaterial = "material"
)

var (
	ErrIssueNotFound = errors.New("issue not found")
	ErrNoResponse    = errors.New("issue has no response")
	ErrNotReviewable = errors.New("issue is not awaiting review")
	ErrNoTarget      = errors.New("issue has no target")
)

// Change is one field write. Inherited changes describe subtasks that pick
// up the value through inheritance and are never written themselves.
type Change struct {
	Entity    string `json:"entity" enum:"task,material"`
	EntityID  string `json:"entityId"`
	Field     string `json:"field"`
	OldValue  any    `json:"oldValue"`
	NewValue  any    `json:"newValue"`
	Inherited bool   `json:"inherited,omitempty"`
}

// ProposedChanges lists what applying the issue's response would change,
// without touching the document.
func ProposedChanges(doc *domain.Document, is domain.Issue) ([]Change, error) {
	changes, _, err := propose(doc, is)
	return changes, err
}

func propose(doc *domain.Document, is domain.Issue) ([]Change, lifecycle.Outcome, error) {
	if is.Response == nil {
		return nil, lifecycle.Outcome{}, fmt.Errorf("issue %s: %w", is.ID, ErrNoResponse)
	}
	if is.Source == domain.SourceAutoLifecycle && is.LifecycleRule != "" {
		m, out, err := lifecycle.AutoApply(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		var p proposal
		for _, u := range out.Updates {
			p.add(Change{Entity: EntityMaterial, EntityID: m.ID, Field: u.Field, OldValue: materialField(m, u.Field), NewValue: u.Value})
		}
		return p.changes, out, nil
	}

	var p proposal
	switch r := is.Response.(type) {
	case domain.AssigneeResponse:
		ref := domain.VendorRef(r.VendorID)
		if is.RelatedMaterial != "" {
			m, err := material(doc, is)
			if err != nil {
				return nil, lifecycle.Outcome{}, err
			}
			p.add(Change{Entity: EntityMaterial, EntityID: m.ID, Field: "vendor", OldValue: m.Vendor, NewValue: ref})
			break
		}
		t, err := task(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "assignee", OldValue: t.Assignee, NewValue: ref})
		for _, sub := range t.Subtasks {
			if sub.Assignee == "" {
				p.add(Change{Entity: EntityTask, EntityID: sub.ID, Field: "assignee", OldValue: t.Assignee, NewValue: ref, Inherited: true})
			}
		}
	case domain.DateResponse:
		if is.RelatedMaterial != "" {
			m, err := material(doc, is)
			if err != nil {
				return nil, lifecycle.Outcome{}, err
			}
			p.add(Change{Entity: EntityMaterial, EntityID: m.ID, Field: "expectedDate", OldValue: m.ExpectedDate, NewValue: r.Date})
			break
		}
		t, err := task(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "end", OldValue: t.End, NewValue: r.Date})
	case domain.DateRangeResponse:
		t, err := task(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "start", OldValue: t.Start, NewValue: r.Start})
		p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "end", OldValue: t.End, NewValue: r.End})
		if _, parent := graph.FindTask(doc, t.ID); domain.EffectiveStatus(t, parent) == domain.TaskNeedsScheduled {
			p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "status", OldValue: t.Status, NewValue: domain.TaskScheduled})
		}
	case domain.DependencyResponse:
		t, err := task(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		merged := append([]string(nil), t.Dependencies...)
		for _, id := range r.TaskIDs {
			if !containsString(merged, id) {
				merged = append(merged, id)
			}
		}
		p.add(Change{Entity: EntityTask, EntityID: t.ID, Field: "dependencies", OldValue: t.Dependencies, NewValue: merged})
	case domain.MaterialStatusResponse:
		m, err := material(doc, is)
		if err != nil {
			return nil, lifecycle.Outcome{}, err
		}
		p.add(Change{Entity: EntityMaterial, EntityID: m.ID, Field: "status", OldValue: m.Status, NewValue: r.Status})
	}
	return p.changes, lifecycle.Outcome{}, nil
}

type proposal struct {
	changes []Change
}

// add drops writes that would not change anything.
func (p *proposal) add(c Change) {
	if reflect.DeepEqual(c.OldValue, c.NewValue) {
		return
	}
	if old, ok := c.OldValue.([]string); ok && len(old) == 0 {
		if nv, ok := c.NewValue.([]string); ok && len(nv) == 0 {
			return
		}
	}
	p.changes = append(p.changes, c)
}

type Options struct {
	Now      func() time.Time
	NewID    func() string
	Assignee domain.Person
}

func (o Options) today() string {
	if o.Now != nil {
		return o.Now().Format(dateLayout)
	}
	return time.Now().Format(dateLayout)
}

func (o Options) id() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

type Result struct {
	Changes   []Change       `json:"changes"`
	FollowUps []domain.Issue `json:"followUps,omitempty"`
}

// Apply writes the issue's proposed changes into the document, marks the
// issue accepted and resolved, and adds any lifecycle follow-up question.
// The returned changes are the audit trail.
func Apply(doc *domain.Document, issueID string, opts Options) (Result, error) {
	is, err := reviewable(doc, issueID)
	if err != nil {
		return Result{}, err
	}
	changes, outcome, err := propose(doc, *is)
	if err != nil {
		return Result{}, err
	}
	for _, c := range changes {
		if c.Inherited {
			continue
		}
		if err := write(doc, c); err != nil {
			return Result{}, fmt.Errorf("issue %s: %w", issueID, err)
		}
	}
	day := opts.today()
	is.Status = domain.IssueResolved
	is.ReviewStatus = domain.ReviewAccepted
	is.ResolvedBy = domain.ResolvedByReview
	is.ResolvedAt = day
	related := *is

	res := Result{Changes: changes}
	if outcome.FollowUp != "" {
		rule, ok := lifecycle.Lookup(outcome.FollowUp)
		m, owner := graph.FindMaterial(doc, related.RelatedMaterial)
		if ok && m != nil && !lifecycle.HasActiveQuestion(doc, m.ID, rule.Name) {
			assignee := opts.Assignee
			if assignee == "" {
				assignee = related.Assignee
			}
			q := lifecycle.NewQuestion(rule, m, owner.ID, day, lifecycle.Options{Assignee: assignee, NewID: opts.id})
			q.FollowUpOf = related.ID
			doc.Issues = append(doc.Issues, q)
			res.FollowUps = append(res.FollowUps, q)
		}
	}
	return res, nil
}

type RejectResult struct {
	FollowUp *domain.Issue `json:"followUp,omitempty"`
}

// Reject records why an answer was not accepted. The issue stays answered so
// it can be reviewed again; no task or material is touched. A non-empty
// followUpPrompt adds a manual question linked to the rejected one.
func Reject(doc *domain.Document, issueID, reason, followUpPrompt string, opts Options) (RejectResult, error) {
	is, err := reviewable(doc, issueID)
	if err != nil {
		return RejectResult{}, err
	}
	is.Status = domain.IssueAnswered
	is.ReviewStatus = domain.ReviewRejected
	is.RejectionReason = reason
	rejected := *is

	var res RejectResult
	if followUpPrompt != "" {
		q := domain.Issue{
			ID:              opts.id(),
			Created:         opts.today(),
			Type:            rejected.Type,
			Prompt:          followUpPrompt,
			Options:         rejected.Options,
			Assignee:        rejected.Assignee,
			Status:          domain.IssueOpen,
			ReviewStatus:    domain.ReviewPending,
			RelatedTask:     rejected.RelatedTask,
			RelatedMaterial: rejected.RelatedMaterial,
			Source:          domain.SourceManual,
			Category:        rejected.Category,
			FollowUpOf:      rejected.ID,
		}
		if opts.Assignee != "" {
			q.Assignee = opts.Assignee
		}
		doc.Issues = append(doc.Issues, q)
		res.FollowUp = &q
	}
	return res, nil
}

func reviewable(doc *domain.Document, id string) (*domain.Issue, error) {
	var is *domain.Issue
	for i := range doc.Issues {
		if doc.Issues[i].ID == id {
			is = &doc.Issues[i]
			break
		}
	}
	if is == nil {
		return nil, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	if is.Response == nil {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNoResponse)
	}
	if !is.IsActive() {
		return nil, fmt.Errorf("issue %s is %s: %w", id, is.Status, ErrNotReviewable)
	}
	return is, nil
}

func task(doc *domain.Document, is domain.Issue) (*domain.Task, error) {
	if is.RelatedTask == "" {
		return nil, fmt.Errorf("issue %s: %w: no related task", is.ID, ErrNoTarget)
	}
	t, _ := graph.FindTask(doc, is.RelatedTask)
	if t == nil {
		return nil, fmt.Errorf("issue %s: %w: task %q not found", is.ID, ErrNoTarget, is.RelatedTask)
	}
	return t, nil
}

func material(doc *domain.Document, is domain.Issue) (*domain.Material, error) {
	if is.RelatedMaterial == "" {
		return nil, fmt.Errorf("issue %s: %w: no related material", is.ID, ErrNoTarget)
	}
	m, _ := graph.FindMaterial(doc, is.RelatedMaterial)
	if m == nil {
		return nil, fmt.Errorf("issue %s: %w: material %q not found", is.ID, ErrNoTarget, is.RelatedMaterial)
	}
	return m, nil
}

func write(doc *domain.Document, c Change) error {
	switch c.Entity {
	case EntityTask:
		t, _ := graph.FindTask(doc, c.EntityID)
		if t == nil {
			return fmt.Errorf("task %q not found", c.EntityID)
		}
		return setTaskField(t, c.Field, c.NewValue)
	case EntityMaterial:
		m, _ := graph.FindMaterial(doc, c.EntityID)
		if m == nil {
			return fmt.Errorf("material %q not found", c.EntityID)
		}
		return setMaterialField(m, c.Field, c.NewValue)
	}
	return fmt.Errorf("unknown entity %q", c.Entity)
}

func setTaskField(t *domain.Task, field string, v any) error {
	var ok bool
	switch field {
	case "assignee":
		t.Assignee, ok = v.(string)
	case "start":
		t.Start, ok = v.(string)
	case "end":
		t.End, ok = v.(string)
	case "status":
		t.Status, ok = v.(domain.TaskStatus)
	case "dependencies":
		t.Dependencies, ok = v.([]string)
	default:
		return fmt.Errorf("task field %q cannot be set", field)
	}
	if !ok {
		return fmt.Errorf("task field %q: unexpected value %T", field, v)
	}
	return nil
}

func setMaterialField(m *domain.Material, field string, v any) error {
	var ok bool
	switch field {
	case "status":
		m.Status, ok = v.(domain.MaterialStatus)
	case "vendor":
		m.Vendor, ok = v.(string)
	case "expectedDate":
		m.ExpectedDate, ok = v.(string)
	case "quantity":
		m.Quantity, ok = v.(string)
	case "detail":
		m.Detail, ok = v.(string)
	default:
		return fmt.Errorf("material field %q cannot be set", field)
	}
	if !ok {
		return fmt.Errorf("material field %q: unexpected value %T", field, v)
	}
	return nil
}

func materialField(m *domain.Material, field string) any {
	switch field {
	case "status":
		return m.Status
	case "vendor":
		return m.Vendor
	case "expectedDate":
		return m.ExpectedDate
	case "quantity":
		return m.Quantity
	case "detail":
		return m.Detail
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
