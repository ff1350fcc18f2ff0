package engine

import (
	"fmt"
	"strings"

	"hometrack/internal/detect"
	"hometrack/internal/domain"
	"hometrack/internal/events"
	"hometrack/internal/graph"
	"hometrack/internal/impact"
	"hometrack/internal/lifecycle"
	"hometrack/internal/similarity"
	"hometrack/internal/validate"
)

type IssueCreateOptions struct {
	Type            domain.IssueType
	Prompt          string
	Options         []string
	Assignee        domain.Person
	RelatedTask     string
	RelatedMaterial string
	Category        domain.ActionCategory
	Force           bool
}

type AddIssueResult struct {
	Issue      domain.Issue               `json:"issue"`
	Duplicates []similarity.QuestionMatch `json:"duplicates,omitempty"`
}

// AddIssue asks a new manual question. Unless forced, a question resembling
// an active one is refused with ErrPossibleDuplicate.
func (e Engine) AddIssue(doc *domain.Document, opts IssueCreateOptions) (AddIssueResult, error) {
	opts.Prompt = strings.TrimSpace(opts.Prompt)
	if opts.Prompt == "" {
		return AddIssueResult{}, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if opts.Type == "" {
		opts.Type = domain.IssueFreeText
	}
	if !domain.OneOf(opts.Type, domain.IssueTypes) {
		return AddIssueResult{}, fmt.Errorf("%w: issue type %q", ErrInvalidInput, opts.Type)
	}
	if opts.Assignee == "" {
		opts.Assignee = e.defaultAssignee()
	}
	if !domain.OneOf(opts.Assignee, domain.People) {
		return AddIssueResult{}, fmt.Errorf("%w: assignee %q", ErrInvalidInput, opts.Assignee)
	}
	if opts.Category == "" {
		opts.Category = domain.ActionDecision
	}
	if opts.RelatedTask != "" {
		if t, _ := graph.FindTask(doc, opts.RelatedTask); t == nil {
			return AddIssueResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, opts.RelatedTask)
		}
	}
	if opts.RelatedMaterial != "" {
		m, owner := graph.FindMaterial(doc, opts.RelatedMaterial)
		if m == nil {
			return AddIssueResult{}, fmt.Errorf("%w: material %s not found", ErrInvalidInput, opts.RelatedMaterial)
		}
		if opts.RelatedTask == "" {
			opts.RelatedTask = owner.ID
		}
	}

	is := domain.Issue{
		ID:              e.newID(),
		Created:         e.today(),
		Type:            opts.Type,
		Prompt:          opts.Prompt,
		Options:         opts.Options,
		Assignee:        opts.Assignee,
		Status:          domain.IssueOpen,
		ReviewStatus:    domain.ReviewPending,
		RelatedTask:     opts.RelatedTask,
		RelatedMaterial: opts.RelatedMaterial,
		Source:          domain.SourceManual,
		Category:        opts.Category,
	}
	if !opts.Force {
		matches := similarity.FindSimilarQuestions(is, doc.Issues, e.cfg().Similarity.QuestionThreshold)
		if len(matches) > 0 {
			return AddIssueResult{Issue: is, Duplicates: matches}, fmt.Errorf("%w: question resembles %s", ErrPossibleDuplicate, matches[0].Issue.ID)
		}
	}
	doc.Issues = append(doc.Issues, is)
	e.record(events.IssueCreated, "issue", is.ID, events.EventPayload{"type": is.Type, "source": is.Source})
	return AddIssueResult{Issue: is}, nil
}

func findIssue(doc *domain.Document, id string) *domain.Issue {
	for i := range doc.Issues {
		if doc.Issues[i].ID == id {
			return &doc.Issues[i]
		}
	}
	return nil
}

func hasVendor(doc *domain.Document, id string) bool {
	for _, v := range doc.Vendors {
		if v.ID == id {
			return true
		}
	}
	return false
}

// Answer records a response on an active issue. The response kind must match
// the issue type and its content must be well formed; legacy free text is
// accepted for any type.
func (e Engine) Answer(doc *domain.Document, id string, resp domain.Response) (domain.Issue, error) {
	is := findIssue(doc, id)
	if is == nil {
		return domain.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	if !is.IsActive() {
		return *is, fmt.Errorf("%w: issue %s is %s", ErrInvalidInput, id, is.Status)
	}
	if resp == nil {
		return *is, fmt.Errorf("%w: response is required", ErrInvalidInput)
	}
	if !domain.IsLegacy(resp) && resp.Kind() != is.Type {
		return *is, fmt.Errorf("%w: issue %s expects a %s response, got %s", ErrInvalidInput, id, is.Type, resp.Kind())
	}
	if problems := validate.ResponseProblems(resp, is.Options); len(problems) > 0 {
		return *is, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	if r, ok := resp.(domain.AssigneeResponse); ok {
		vendorID, _ := domain.ParseVendorRef(domain.VendorRef(r.VendorID))
		if !hasVendor(doc, vendorID) {
			return *is, fmt.Errorf("%w: unknown vendor %q", ErrInvalidInput, vendorID)
		}
	}
	is.Response = resp
	is.Status = domain.IssueAnswered
	is.AnsweredAt = e.today()
	is.ReviewStatus = domain.ReviewPending
	is.RejectionReason = ""
	e.record(events.IssueAnswered, "issue", is.ID, events.EventPayload{"type": resp.Kind()})
	return *is, nil
}

// Dismiss closes an issue without applying anything.
func (e Engine) Dismiss(doc *domain.Document, id string) (domain.Issue, error) {
	is := findIssue(doc, id)
	if is == nil {
		return domain.Issue{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	if !is.IsActive() {
		return *is, fmt.Errorf("%w: issue %s is %s", ErrInvalidInput, id, is.Status)
	}
	is.Status = domain.IssueDismissed
	is.ResolvedAt = e.today()
	e.record(events.IssueDismissed, "issue", is.ID, nil)
	return *is, nil
}

type Review struct {
	Issue   domain.Issue    `json:"issue"`
	Changes []impact.Change `json:"changes"`
	Impacts []impact.Impact `json:"impacts"`
}

// Review previews what accepting the issue's answer would do.
func (e Engine) Review(doc *domain.Document, id string) (Review, error) {
	is := findIssue(doc, id)
	if is == nil {
		return Review{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	changes, err := impact.ProposedChanges(doc, *is)
	if err != nil {
		return Review{Issue: *is}, err
	}
	return Review{Issue: *is, Changes: changes, Impacts: impact.Analyze(doc, *is)}, nil
}

type AcceptResult struct {
	impact.Result
	Impacts []impact.Impact `json:"impacts,omitempty"`
}

// Accept applies the answer. Impact errors block it unless forced.
func (e Engine) Accept(doc *domain.Document, id string, force bool) (AcceptResult, error) {
	is := findIssue(doc, id)
	if is == nil {
		return AcceptResult{}, fmt.Errorf("%w: %s", ErrIssueNotFound, id)
	}
	impacts := impact.Analyze(doc, *is)
	if impact.HasErrors(impacts) && !force {
		return AcceptResult{Impacts: impacts}, fmt.Errorf("issue %s: %w", id, ErrBlocked)
	}
	res, err := impact.Apply(doc, id, e.impactOptions())
	if err != nil {
		return AcceptResult{Impacts: impacts}, err
	}
	e.record(events.IssueAccepted, "issue", id, events.EventPayload{
		"changes": len(res.Changes),
		"forced":  force && impact.HasErrors(impacts),
	})
	for _, c := range res.Changes {
		if c.Inherited {
			continue
		}
		evtType, kind := events.TaskUpdated, "task"
		if c.Entity == impact.EntityMaterial {
			evtType, kind = events.MaterialUpdated, "material"
		}
		e.record(evtType, kind, c.EntityID, events.EventPayload{
			"field": c.Field, "old": c.OldValue, "new": c.NewValue, "issue": id,
		})
	}
	for _, f := range res.FollowUps {
		e.record(events.IssueCreated, "issue", f.ID, events.EventPayload{"type": f.Type, "source": f.Source, "follow_up_of": id})
	}
	return AcceptResult{Result: res, Impacts: impacts}, nil
}

// Reject sends an answer back with a reason, optionally asking a follow-up.
func (e Engine) Reject(doc *domain.Document, id, reason, followUp string) (impact.RejectResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return impact.RejectResult{}, fmt.Errorf("%w: a rejection reason is required", ErrInvalidInput)
	}
	res, err := impact.Reject(doc, id, reason, strings.TrimSpace(followUp), e.impactOptions())
	if err != nil {
		return res, err
	}
	e.record(events.IssueRejected, "issue", id, events.EventPayload{"reason": reason})
	if res.FollowUp != nil {
		e.record(events.IssueCreated, "issue", res.FollowUp.ID, events.EventPayload{"type": res.FollowUp.Type, "source": res.FollowUp.Source, "follow_up_of": id})
	}
	return res, nil
}

func (e Engine) impactOptions() impact.Options {
	return impact.Options{Now: e.now, NewID: e.newID}
}

// RunDetection evaluates the configured detection rules as of now.
func (e Engine) RunDetection(doc *domain.Document) detect.Result {
	res := detect.Run(doc, e.now(), detect.Options{
		Assignee: e.defaultAssignee(),
		Rules:    e.cfg().DetectionRules(),
	})
	e.record(events.DetectionRun, "document", "", events.EventPayload{
		"reference_date": e.today(),
		"created":        res.Created,
		"resolved":       res.Resolved,
		"refreshed":      res.Refreshed,
	})
	return res
}

// CheckMaterials asks each material's next lifecycle question.
func (e Engine) CheckMaterials(doc *domain.Document) lifecycle.CheckResult {
	res := lifecycle.Check(doc, e.now(), lifecycle.Options{Assignee: e.defaultAssignee(), NewID: e.newID})
	e.record(events.MaterialsChecked, "document", "", events.EventPayload{"created": res.Created})
	return res
}
