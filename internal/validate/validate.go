// Package validate checks a whole document against its structural and
// referential invariants.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"hometrack/internal/domain"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateLayout is the only accepted date encoding.
const DateLayout = "2006-01-02"

// ValidDate reports whether s is a strict YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

type identities struct {
	tasks     map[string]bool
	vendors   map[string]bool
	issues    map[string]bool
	materials map[string]bool
}

// Validate returns every violation found in doc. An empty result means the
// document may be persisted.
func Validate(doc *domain.Document) []string {
	if doc == nil {
		return []string{"document is nil"}
	}
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	ids := collect(doc, add)

	for i := range doc.Tasks {
		t := &doc.Tasks[i]
		validateTask(t, nil, ids, add)
		for j := range t.Subtasks {
			validateTask(&t.Subtasks[j], t, ids, add)
		}
	}
	for _, v := range doc.Vendors {
		if v.Name == "" {
			add("Vendor %s: name is required", v.ID)
		}
	}
	for _, is := range doc.Issues {
		validateIssue(is, ids, add)
	}
	return errs
}

// collect builds the identity sets and reports duplicates.
func collect(doc *domain.Document, add func(string, ...any)) identities {
	ids := identities{
		tasks:     map[string]bool{},
		vendors:   map[string]bool{},
		issues:    map[string]bool{},
		materials: map[string]bool{},
	}
	addTask := func(t *domain.Task) {
		if t.ID == "" {
			add("Task %q: id is required", t.Name)
			return
		}
		if ids.tasks[t.ID] {
			add("Duplicate task ID: %s", t.ID)
		}
		ids.tasks[t.ID] = true
		for _, md := range t.MaterialDependencies {
			if md.Material == nil {
				continue
			}
			if md.Material.ID == "" {
				add("Task %s: material %q has no id", t.ID, md.Material.Name)
				continue
			}
			if ids.materials[md.Material.ID] {
				add("Duplicate material ID: %s", md.Material.ID)
			}
			ids.materials[md.Material.ID] = true
		}
	}
	for i := range doc.Tasks {
		addTask(&doc.Tasks[i])
		for j := range doc.Tasks[i].Subtasks {
			addTask(&doc.Tasks[i].Subtasks[j])
		}
	}
	for _, v := range doc.Vendors {
		if v.ID == "" {
			add("Vendor %q: id is required", v.Name)
			continue
		}
		if ids.vendors[v.ID] {
			add("Duplicate vendor ID: %s", v.ID)
		}
		ids.vendors[v.ID] = true
	}
	for _, is := range doc.Issues {
		if is.ID == "" {
			add("Issue %q: id is required", is.Prompt)
			continue
		}
		if ids.issues[is.ID] {
			add("Duplicate issue ID: %s", is.ID)
		}
		ids.issues[is.ID] = true
	}
	return ids
}

func validateTask(t, parent *domain.Task, ids identities, add func(string, ...any)) {
	label := "Task " + t.ID
	if parent != nil {
		label = fmt.Sprintf("Subtask %s (of %s)", t.ID, parent.ID)
		if len(t.Subtasks) > 0 {
			add("%s: subtasks cannot have subtasks", label)
		}
	}
	if t.Name == "" {
		add("%s: name is required", label)
	}
	switch {
	case t.Status == "" && parent == nil:
		add("%s: status is required", label)
	case t.Status != "" && !domain.OneOf(t.Status, domain.TaskStatuses):
		add("%s: invalid status %q", label, t.Status)
	}
	switch {
	case t.Category == "" && parent == nil:
		add("%s: category is required", label)
	case t.Category != "" && !domain.OneOf(t.Category, domain.Categories):
		add("%s: invalid category %q", label, t.Category)
	}
	if t.Priority != "" && !domain.OneOf(t.Priority, domain.Priorities) {
		add("%s: invalid priority %q", label, t.Priority)
	}
	for _, dep := range t.Dependencies {
		switch {
		case dep == t.ID:
			add("%s: cannot depend on itself", label)
		case !ids.tasks[dep]:
			add("%s: dependency %q does not exist", label, dep)
		}
	}
	if t.Assignee != "" {
		checkVendorRef(label, "assignee", t.Assignee, ids, add)
	}
	startOK := checkDate(label, "start", t.Start, add)
	endOK := checkDate(label, "end", t.End, add)
	if startOK && endOK && t.Start != "" && t.End != "" && t.Start > t.End {
		add("%s: start %s is after end %s", label, t.Start, t.End)
	}
	for _, md := range t.MaterialDependencies {
		if md.Material == nil {
			if md.Ref == "" {
				add("%s: empty material reference", label)
			}
			continue
		}
		validateMaterial(label, md.Material, ids, add)
	}
}

func validateMaterial(owner string, m *domain.Material, ids identities, add func(string, ...any)) {
	label := fmt.Sprintf("%s: material %s", owner, m.ID)
	if m.Name == "" {
		add("%s: name is required", label)
	}
	if !domain.OneOf(m.Status, domain.MaterialStatuses) {
		add("%s: invalid status %q", label, m.Status)
	}
	if m.Vendor != "" {
		checkVendorRef(label, "vendor", m.Vendor, ids, add)
	}
	checkDate(label, "expectedDate", m.ExpectedDate, add)
	if m.Cost != nil && *m.Cost < 0 {
		add("%s: cost cannot be negative", label)
	}
}

func validateIssue(is domain.Issue, ids identities, add func(string, ...any)) {
	label := "Issue " + is.ID
	if is.Prompt == "" {
		add("%s: prompt is required", label)
	}
	if !domain.OneOf(is.Type, domain.IssueTypes) {
		add("%s: invalid type %q", label, is.Type)
	}
	if !domain.OneOf(is.Status, domain.IssueStatuses) {
		add("%s: invalid status %q", label, is.Status)
	}
	if is.ReviewStatus != "" && !domain.OneOf(is.ReviewStatus, domain.ReviewStatuses) {
		add("%s: invalid review status %q", label, is.ReviewStatus)
	}
	if is.Assignee != "" && !domain.OneOf(is.Assignee, domain.People) {
		add("%s: invalid assignee %q", label, is.Assignee)
	}
	if is.Source != "" && !domain.OneOf(is.Source, domain.IssueSources) {
		add("%s: invalid source %q", label, is.Source)
	}
	if is.Category != "" && !domain.OneOf(is.Category, domain.ActionCategories) {
		add("%s: invalid category %q", label, is.Category)
	}
	if is.RelatedTask != "" && !ids.tasks[is.RelatedTask] {
		add("%s: related task %q does not exist", label, is.RelatedTask)
	}
	if is.RelatedMaterial != "" && !ids.materials[is.RelatedMaterial] {
		add("%s: related material %q does not exist", label, is.RelatedMaterial)
	}
	if is.FollowUpOf != "" && !ids.issues[is.FollowUpOf] {
		add("%s: follow-up of unknown issue %q", label, is.FollowUpOf)
	}
	if is.Type == domain.IssueSelectOne && len(is.Options) == 0 {
		add("%s: select-one question needs options", label)
	}
	if is.Response != nil && !domain.IsLegacy(is.Response) {
		if is.Response.Kind() != is.Type {
			add("%s: %s response does not match type %s", label, is.Response.Kind(), is.Type)
		} else {
			checkResponse(label+" response", is.Response, is.Options, add)
		}
	}
	checkDate(label, "created", is.Created, add)
	checkDate(label, "lastChecked", is.LastChecked, add)
	checkDate(label, "answeredAt", is.AnsweredAt, add)
	checkDate(label, "resolvedAt", is.ResolvedAt, add)
}

func checkVendorRef(label, field, ref string, ids identities, add func(string, ...any)) {
	id, ok := domain.ParseVendorRef(ref)
	if !ok {
		add("%s: %s %q must look like vendor:{id}", label, field, ref)
		return
	}
	if !ids.vendors[id] {
		add("%s: %s references unknown vendor %q", label, field, id)
	}
}

// checkDate reports an invalid non-empty date and returns whether the value is usable.
func checkDate(label, field, value string, add func(string, ...any)) bool {
	if value == "" {
		return true
	}
	if !ValidDate(value) {
		add("%s: invalid %s %q (want YYYY-MM-DD)", label, field, value)
		return false
	}
	return true
}

// ResponseProblems checks the content of a typed response. Options, when
// given, restrict a select-one value. Legacy free text is not checked.
func ResponseProblems(r domain.Response, options []string) []string {
	var out []string
	checkResponse("response", r, options, func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...))
	})
	return out
}

func checkResponse(label string, r domain.Response, options []string, add func(string, ...any)) {
	switch v := r.(type) {
	case domain.AssigneeResponse:
		if strings.TrimPrefix(v.VendorID, "vendor:") == "" {
			add("%s: vendor id is required", label)
		}
	case domain.DateResponse:
		requireDate(label, "date", v.Date, add)
	case domain.DateRangeResponse:
		okStart := requireDate(label, "start", v.Start, add)
		okEnd := requireDate(label, "end", v.End, add)
		if okStart && okEnd && v.End < v.Start {
			add("%s: end %s is before start %s", label, v.End, v.Start)
		}
	case domain.DependencyResponse:
		if len(v.TaskIDs) == 0 {
			add("%s: at least one task is required", label)
		}
		for _, id := range v.TaskIDs {
			if strings.TrimSpace(id) == "" {
				add("%s: empty task id", label)
				break
			}
		}
	case domain.SelectOneResponse:
		if v.Value == "" {
			add("%s: value is required", label)
		} else if len(options) > 0 && !domain.OneOf(v.Value, options) {
			add("%s: %q is not one of the options", label, v.Value)
		}
	case domain.MaterialStatusResponse:
		if !domain.OneOf(v.Status, domain.MaterialStatuses) {
			add("%s: invalid material status %q", label, v.Status)
		}
	}
}

func requireDate(label, field, value string, add func(string, ...any)) bool {
	if value == "" {
		add("%s: %s is required", label, field)
		return false
	}
	return checkDate(label, field, value, add)
}
