package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"hometrack/internal/config"
	"hometrack/internal/domain"
	"hometrack/internal/events"
	"hometrack/internal/graph"
	"hometrack/internal/impact"
	"hometrack/internal/similarity"
	"hometrack/internal/validate"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrIssueNotFound     = errors.New("issue not found")
	ErrPossibleDuplicate = errors.New("possible duplicate")
	ErrBlocked           = errors.New("blocked by impact errors")
	ErrInvalidInput      = errors.New("invalid input")
)

// Recorder receives audit events for changes made by the engine.
type Recorder interface {
	Record(events.Record)
}

// Engine runs commands against an in-memory document. It never loads or
// saves; callers validate and persist the document afterwards.
type Engine struct {
	Config *config.Config
	Events Recorder
	Now    func() time.Time
	NewID  func() string
}

func New(cfg *config.Config) Engine {
	return Engine{
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() string {
	return e.now().Format(validate.DateLayout)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("")
}

func (e Engine) defaultAssignee() domain.Person {
	if a := e.cfg().Questions.DefaultAssignee; a != "" {
		return domain.Person(a)
	}
	return domain.PersonOwner
}

func (e Engine) record(evtType, entityKind, entityID string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	e.Events.Record(events.Record{Type: evtType, EntityKind: entityKind, EntityID: entityID, Payload: payload})
}

// TaskCreateOptions are parameters for creating a task or subtask.
type TaskCreateOptions struct {
	ID           string
	ParentID     string
	Name         string
	Status       domain.TaskStatus
	Category     domain.Category
	Priority     domain.Priority
	Start        string
	End          string
	Assignee     string
	Dependencies []string
	Notes        string
	// Force skips both duplicate gates.
	Force bool
}

type AddTaskResult struct {
	Task       domain.Task            `json:"task"`
	Duplicates []similarity.TaskMatch `json:"duplicates,omitempty"`
}

// AddTask appends a task, or a subtask when ParentID is set. Unless forced,
// it first checks the name alone and then the full candidate for likely
// duplicates, returning ErrPossibleDuplicate with the matches.
func (e Engine) AddTask(doc *domain.Document, opts TaskCreateOptions) (AddTaskResult, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return AddTaskResult{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	var parent *domain.Task
	if opts.ParentID != "" {
		p, grand := graph.FindTask(doc, opts.ParentID)
		if p == nil {
			return AddTaskResult{}, fmt.Errorf("%w: parent %s", ErrTaskNotFound, opts.ParentID)
		}
		if grand != nil {
			return AddTaskResult{}, fmt.Errorf("%w: %s is a subtask; subtasks cannot have subtasks", ErrInvalidInput, p.ID)
		}
		parent = p
	}
	if opts.ID != "" {
		if t, _ := graph.FindTask(doc, opts.ID); t != nil {
			return AddTaskResult{}, fmt.Errorf("%w: task id %s already exists", ErrInvalidInput, opts.ID)
		}
	}

	existing := flatten(doc)
	sim := e.cfg().Similarity
	if !opts.Force {
		if matches := similarity.FindSimilarNames(opts.Name, existing, sim.NameThreshold); len(matches) > 0 {
			return AddTaskResult{Duplicates: matches}, fmt.Errorf("%w: %q resembles %s", ErrPossibleDuplicate, opts.Name, matches[0].Task.ID)
		}
	}

	t := domain.Task{
		ID:           opts.ID,
		Name:         opts.Name,
		Status:       opts.Status,
		Category:     opts.Category,
		Priority:     opts.Priority,
		Start:        opts.Start,
		End:          opts.End,
		Dependencies: opts.Dependencies,
		Notes:        opts.Notes,
	}
	if opts.Assignee != "" {
		t.Assignee = domain.VendorRef(opts.Assignee)
	}
	if parent == nil {
		if t.Status == "" {
			t.Status = domain.TaskNeedsScheduled
			if t.Start != "" && t.End != "" {
				t.Status = domain.TaskScheduled
			}
		}
		if t.Category == "" {
			t.Category = "general"
		}
	}
	if !opts.Force {
		if matches := similarity.FindSimilarTasks(t, existing, sim.TaskThreshold); len(matches) > 0 {
			return AddTaskResult{Task: t, Duplicates: matches}, fmt.Errorf("%w: %q resembles %s", ErrPossibleDuplicate, opts.Name, matches[0].Task.ID)
		}
	}
	if t.ID == "" {
		t.ID = e.taskID(doc, t.Name)
	}

	if parent != nil {
		parent.Subtasks = append(parent.Subtasks, t)
	} else {
		doc.Tasks = append(doc.Tasks, t)
	}
	payload := events.EventPayload{"name": t.Name, "status": t.Status}
	if parent != nil {
		payload["parent"] = parent.ID
	}
	e.record(events.TaskCreated, "task", t.ID, payload)
	return AddTaskResult{Task: t}, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// taskID derives a readable id from the name, falling back to a
// name-and-time hash suffix when the slug is taken.
func (e Engine) taskID(doc *domain.Document, name string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug != "" {
		if t, _ := graph.FindTask(doc, slug); t == nil {
			return slug
		}
	}
	hash := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name+"|"+e.now().UTC().Format(time.RFC3339Nano))).String()[:8]
	if slug == "" {
		return "task-" + hash
	}
	return slug + "-" + hash
}

func flatten(doc *domain.Document) []domain.Task {
	entries := graph.AllTasks(doc)
	out := make([]domain.Task, 0, len(entries))
	for _, en := range entries {
		out = append(out, *en.Task)
	}
	return out
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers and empty
// values leave the field unchanged.
type TaskUpdateOptions struct {
	ID         string
	Name       string
	Status     domain.TaskStatus
	Priority   domain.Priority
	Start      *string
	End        *string
	Assign     *string
	AddDeps    []string
	RemoveDeps []string
	Notes      *string
	Force      bool
}

type UpdateTaskResult struct {
	Task    domain.Task     `json:"task"`
	Impacts []impact.Impact `json:"impacts,omitempty"`
}

// UpdateTask analyses the requested change first; impact errors block the
// update unless forced.
func (e Engine) UpdateTask(doc *domain.Document, opts TaskUpdateOptions) (UpdateTaskResult, error) {
	t, _ := graph.FindTask(doc, opts.ID)
	if t == nil {
		return UpdateTaskResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, opts.ID)
	}
	if opts.Status != "" && !domain.OneOf(opts.Status, domain.TaskStatuses) {
		return UpdateTaskResult{}, fmt.Errorf("%w: status %q", ErrInvalidInput, opts.Status)
	}
	if opts.Priority != "" && !domain.OneOf(opts.Priority, domain.Priorities) {
		return UpdateTaskResult{}, fmt.Errorf("%w: priority %q", ErrInvalidInput, opts.Priority)
	}

	var impacts []impact.Impact
	start, end := t.Start, t.End
	if opts.Start != nil {
		start = *opts.Start
	}
	if opts.End != nil {
		end = *opts.End
	}
	if opts.Start != nil || opts.End != nil {
		impacts = append(impacts, impact.AnalyzeDateRangeImpact(doc, t.ID, start, end)...)
	}
	if len(opts.AddDeps) > 0 {
		impacts = append(impacts, impact.AnalyzeDependencyImpact(doc, t.ID, opts.AddDeps)...)
	}
	if opts.Assign != nil && *opts.Assign != "" {
		impacts = append(impacts, impact.AnalyzeAssigneeImpact(doc, t.ID, *opts.Assign)...)
	}
	res := UpdateTaskResult{Impacts: impacts}
	if impact.HasErrors(impacts) && !opts.Force {
		res.Task = *t
		return res, fmt.Errorf("task %s: %w", t.ID, ErrBlocked)
	}

	from := t.Status
	if opts.Name != "" {
		t.Name = opts.Name
	}
	if opts.Priority != "" {
		t.Priority = opts.Priority
	}
	if opts.Notes != nil {
		t.Notes = *opts.Notes
	}
	if opts.Assign != nil {
		t.Assignee = ""
		if *opts.Assign != "" {
			t.Assignee = domain.VendorRef(*opts.Assign)
		}
	}
	t.Start, t.End = start, end
	if opts.Status != "" {
		t.Status = opts.Status
	} else if t.Status == domain.TaskNeedsScheduled && t.Start != "" && t.End != "" {
		t.Status = domain.TaskScheduled
	}
	for _, id := range opts.AddDeps {
		if !containsString(t.Dependencies, id) {
			t.Dependencies = append(t.Dependencies, id)
		}
	}
	if len(opts.RemoveDeps) > 0 {
		kept := t.Dependencies[:0]
		for _, id := range t.Dependencies {
			if !containsString(opts.RemoveDeps, id) {
				kept = append(kept, id)
			}
		}
		t.Dependencies = kept
	}
	e.record(events.TaskUpdated, "task", t.ID, events.EventPayload{
		"from_status": from,
		"to_status":   t.Status,
		"forced":      opts.Force && impact.HasErrors(impacts),
	})
	res.Task = *t
	return res, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
