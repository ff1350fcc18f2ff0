// Package lifecycle derives which question, if any, each material currently
// needs, and turns answers to those questions into material updates.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

const dateLayout = "2006-01-02"

// Rule names stored in Issue.LifecycleRule.
const (
	RuleQuantitySpec  = "quantity-spec"
	RuleOrderPlaced   = "order-placed"
	RuleExpectedDate  = "expected-date"
	RuleDeliveryCheck = "delivery-check"
)

var ErrUnknownRule = errors.New("unknown lifecycle rule")

// Update is a single material field write produced by AutoApply.
type Update struct {
	Field string
	Value any
}

// Outcome is what applying a lifecycle answer does to its material.
type Outcome struct {
	Updates []Update
	// FollowUp names the rule whose question should be asked next, if any.
	FollowUp string
}

type Rule struct {
	Name      string
	Type      domain.IssueType
	Applies   func(m *domain.Material, today string) bool
	Prompt    func(m *domain.Material) string
	AutoApply func(m *domain.Material, r domain.Response) (Outcome, error)
}

// Rules is consulted in order; the first rule that applies to a material is
// its current question. on-hand matches nothing.
var Rules = []Rule{
	{
		Name: RuleQuantitySpec,
		Type: domain.IssueFreeText,
		Applies: func(m *domain.Material, _ string) bool {
			return m.Status == domain.MaterialNeedToOrder && (m.Quantity == "" || m.Detail == "")
		},
		Prompt: func(m *domain.Material) string {
			return fmt.Sprintf("How much %s is needed, and what exactly (size, model, finish)? Answer as \"quantity, spec\".", m.Name)
		},
		AutoApply: applyQuantitySpec,
	},
	{
		Name: RuleOrderPlaced,
		Type: domain.IssueYesNo,
		Applies: func(m *domain.Material, _ string) bool {
			return m.Status == domain.MaterialNeedToOrder && m.Quantity != "" && m.Detail != ""
		},
		Prompt: func(m *domain.Material) string {
			return fmt.Sprintf("Has %s (%s, %s) been ordered?", m.Name, m.Quantity, m.Detail)
		},
		AutoApply: func(m *domain.Material, r domain.Response) (Outcome, error) {
			yes, err := yesNo(r)
			if err != nil || !yes {
				return Outcome{}, err
			}
			return Outcome{
				Updates:  []Update{{Field: "status", Value: domain.MaterialOrdered}},
				FollowUp: RuleExpectedDate,
			}, nil
		},
	},
	{
		Name: RuleExpectedDate,
		Type: domain.IssueDate,
		Applies: func(m *domain.Material, _ string) bool {
			return m.Status == domain.MaterialOrdered && m.ExpectedDate == ""
		},
		Prompt: func(m *domain.Material) string {
			return fmt.Sprintf("When is %s expected to arrive?", m.Name)
		},
		AutoApply: func(m *domain.Material, r domain.Response) (Outcome, error) {
			d, ok := r.(domain.DateResponse)
			if !ok {
				return Outcome{}, fmt.Errorf("expected a date response, got %s", r.Kind())
			}
			return Outcome{Updates: []Update{{Field: "expectedDate", Value: d.Date}}}, nil
		},
	},
	{
		Name: RuleDeliveryCheck,
		Type: domain.IssueYesNo,
		Applies: func(m *domain.Material, today string) bool {
			return m.Status == domain.MaterialOrdered && m.ExpectedDate != "" && m.ExpectedDate < today
		},
		Prompt: func(m *domain.Material) string {
			return fmt.Sprintf("%s was expected %s. Has it been delivered?", m.Name, m.ExpectedDate)
		},
		AutoApply: func(m *domain.Material, r domain.Response) (Outcome, error) {
			yes, err := yesNo(r)
			if err != nil {
				return Outcome{}, err
			}
			if yes {
				return Outcome{Updates: []Update{{Field: "status", Value: domain.MaterialOnHand}}}, nil
			}
			return Outcome{
				Updates:  []Update{{Field: "expectedDate", Value: ""}},
				FollowUp: RuleExpectedDate,
			}, nil
		},
	},
}

// Lookup returns the rule with the given name.
func Lookup(name string) (Rule, bool) {
	for _, r := range Rules {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Current returns the rule that applies to m as of today, if any.
func Current(m *domain.Material, today string) (Rule, bool) {
	for _, r := range Rules {
		if r.Applies(m, today) {
			return r, true
		}
	}
	return Rule{}, false
}

type Options struct {
	Assignee domain.Person
	NewID    func() string
}

func (o Options) id() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o Options) assignee() domain.Person {
	if o.Assignee == "" {
		return domain.PersonOwner
	}
	return o.Assignee
}

type CheckResult struct {
	Created    int      `json:"created"`
	CreatedIDs []string `json:"createdIds,omitempty"`
}

// Check walks every embedded material and adds the question its current
// state calls for unless an open or answered one already exists.
func Check(doc *domain.Document, today time.Time, opts Options) CheckResult {
	day := today.Format(dateLayout)
	var res CheckResult
	for _, e := range graph.AllTasks(doc) {
		for _, md := range e.Task.MaterialDependencies {
			m := md.Material
			if m == nil {
				continue
			}
			rule, ok := Current(m, day)
			if !ok || HasActiveQuestion(doc, m.ID, rule.Name) {
				continue
			}
			is := NewQuestion(rule, m, e.Task.ID, day, opts)
			doc.Issues = append(doc.Issues, is)
			res.Created++
			res.CreatedIDs = append(res.CreatedIDs, is.ID)
		}
	}
	return res
}

// HasActiveQuestion reports whether materialID already has an open or
// answered question for rule.
func HasActiveQuestion(doc *domain.Document, materialID, rule string) bool {
	for _, is := range doc.Issues {
		if is.RelatedMaterial == materialID && is.LifecycleRule == rule && is.IsActive() {
			return true
		}
	}
	return false
}

// NewQuestion builds the issue asking rule's question about m.
func NewQuestion(rule Rule, m *domain.Material, taskID, day string, opts Options) domain.Issue {
	return domain.Issue{
		ID:              opts.id(),
		Created:         day,
		Type:            rule.Type,
		Prompt:          rule.Prompt(m),
		Assignee:        opts.assignee(),
		Status:          domain.IssueOpen,
		ReviewStatus:    domain.ReviewPending,
		RelatedTask:     taskID,
		RelatedMaterial: m.ID,
		Source:          domain.SourceAutoLifecycle,
		LifecycleRule:   rule.Name,
		Category:        domain.ActionMaterial,
	}
}

// AutoApply runs the answered lifecycle issue's rule against its material.
func AutoApply(doc *domain.Document, is domain.Issue) (*domain.Material, Outcome, error) {
	rule, ok := Lookup(is.LifecycleRule)
	if !ok {
		return nil, Outcome{}, fmt.Errorf("%w: %q", ErrUnknownRule, is.LifecycleRule)
	}
	m, _ := graph.FindMaterial(doc, is.RelatedMaterial)
	if m == nil {
		return nil, Outcome{}, fmt.Errorf("issue %s: material %q not found", is.ID, is.RelatedMaterial)
	}
	if is.Response == nil {
		return m, Outcome{}, fmt.Errorf("issue %s has no response", is.ID)
	}
	out, err := rule.AutoApply(m, is.Response)
	if err != nil {
		return m, Outcome{}, fmt.Errorf("issue %s (%s): %w", is.ID, rule.Name, err)
	}
	return m, out, nil
}

func applyQuantitySpec(m *domain.Material, r domain.Response) (Outcome, error) {
	text, err := freeText(r)
	if err != nil {
		return Outcome{}, err
	}
	qty, spec := ParseQuantitySpec(text)
	var out Outcome
	if qty != "" {
		out.Updates = append(out.Updates, Update{Field: "quantity", Value: qty})
	}
	if spec != "" {
		out.Updates = append(out.Updates, Update{Field: "detail", Value: spec})
	}
	return out, nil
}

// ParseQuantitySpec splits "12, 2x4 studs" style answers. Without a
// separator a leading number is taken as the quantity and the rest as spec.
func ParseQuantitySpec(text string) (qty, spec string) {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ",;:"); i >= 0 {
		return strings.TrimSpace(text[:i]), strings.TrimSpace(text[i+1:])
	}
	fields := strings.Fields(text)
	if len(fields) > 0 && startsWithDigit(fields[0]) {
		return fields[0], strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
	}
	return "", text
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func freeText(r domain.Response) (string, error) {
	switch v := r.(type) {
	case domain.FreeTextResponse:
		return v.Text, nil
	case domain.LegacyFreeTextResponse:
		return v.Text, nil
	}
	return "", fmt.Errorf("expected a free-text response, got %s", r.Kind())
}

func yesNo(r domain.Response) (bool, error) {
	switch v := r.(type) {
	case domain.YesNoResponse:
		return v.Value, nil
	case domain.LegacyFreeTextResponse:
		switch strings.ToLower(strings.TrimSpace(v.Text)) {
		case "yes", "y", "true":
			return true, nil
		case "no", "n", "false":
			return false, nil
		}
		return false, fmt.Errorf("cannot read %q as yes or no", v.Text)
	}
	return false, fmt.Errorf("expected a yes-no response, got %s", r.Kind())
}
