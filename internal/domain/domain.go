package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is the root aggregate persisted as one JSON file.
type Document struct {
	Tasks   []Task   `json:"tasks"`
	Vendors []Vendor `json:"vendors"`
	Issues  []Issue  `json:"issues"`
}

type Task struct {
	ID                   string               `json:"id"`
	Name                 string               `json:"name"`
	Status               TaskStatus           `json:"status,omitempty" enum:"needs-scheduled,scheduled,in-progress,blocked,completed,cancelled"`
	Category             Category             `json:"category,omitempty"`
	Priority             Priority             `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Start                string               `json:"start,omitempty" format:"date"`
	End                  string               `json:"end,omitempty" format:"date"`
	Assignee             string               `json:"assignee,omitempty"`
	Dependencies         []string             `json:"dependencies,omitempty"`
	MaterialDependencies []MaterialDependency `json:"materialDependencies,omitempty"`
	Notes                string               `json:"notes,omitempty"`
	Subtasks             []Task               `json:"subtasks,omitempty"`
}

// IsDone reports whether the status needs no further work.
func (s TaskStatus) IsDone() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// EffectiveStatus returns the task status, falling back to the parent's when unset.
func EffectiveStatus(t, parent *Task) TaskStatus {
	if t.Status == "" && parent != nil {
		return parent.Status
	}
	return t.Status
}

func EffectiveCategory(t, parent *Task) Category {
	if t.Category == "" && parent != nil {
		return parent.Category
	}
	return t.Category
}

func EffectiveAssignee(t, parent *Task) string {
	if t.Assignee == "" && parent != nil {
		return parent.Assignee
	}
	return t.Assignee
}

type Material struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       MaterialStatus `json:"status"`
	Quantity     string         `json:"quantity,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	Vendor       string         `json:"vendor,omitempty"`
	ExpectedDate string         `json:"expectedDate,omitempty" format:"date"`
	Cost         *float64       `json:"cost,omitempty"`
}

// MaterialDependency is either an embedded Material or a bare string reference.
type MaterialDependency struct {
	Material *Material
	Ref      string
}

// ID returns the referenced material id for either variant.
func (m MaterialDependency) ID() string {
	if m.Material != nil {
		return m.Material.ID
	}
	return m.Ref
}

func (m MaterialDependency) MarshalJSON() ([]byte, error) {
	if m.Material != nil {
		return json.Marshal(m.Material)
	}
	return json.Marshal(m.Ref)
}

func (m *MaterialDependency) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		m.Material = nil
		return json.Unmarshal(data, &m.Ref)
	}
	var mat Material
	if err := json.Unmarshal(data, &mat); err != nil {
		return fmt.Errorf("material dependency: %w", err)
	}
	m.Material = &mat
	m.Ref = ""
	return nil
}

type Vendor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Trade string `json:"trade,omitempty"`
	Type  string `json:"type,omitempty"`
}

const vendorPrefix = "vendor:"

// VendorRef formats a vendor id as an assignee reference.
func VendorRef(id string) string {
	if strings.HasPrefix(id, vendorPrefix) {
		return id
	}
	return vendorPrefix + id
}

// ParseVendorRef extracts the vendor id from a `vendor:{id}` reference.
func ParseVendorRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, vendorPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, vendorPrefix)
	return id, id != ""
}

// Issue is a question or detected condition that needs a human.
type Issue struct {
	ID              string         `json:"id"`
	Created         string         `json:"created,omitempty" format:"date"`
	Type            IssueType      `json:"type"`
	Prompt          string         `json:"prompt"`
	Options         []string       `json:"options,omitempty"`
	Assignee        Person         `json:"assignee,omitempty"`
	Status          IssueStatus    `json:"status" enum:"open,answered,resolved,dismissed"`
	ReviewStatus    ReviewStatus   `json:"reviewStatus,omitempty"`
	RelatedTask     string         `json:"relatedTask,omitempty"`
	RelatedMaterial string         `json:"relatedMaterial,omitempty"`
	Response        Response       `json:"response,omitempty"`
	Source          IssueSource    `json:"source,omitempty"`
	DetectionRule   string         `json:"detectionRule,omitempty"`
	LifecycleRule   string         `json:"lifecycleRule,omitempty"`
	LastChecked     string         `json:"lastChecked,omitempty" format:"date"`
	Category        ActionCategory `json:"category,omitempty"`
	AnsweredAt      string         `json:"answeredAt,omitempty" format:"date"`
	ResolvedBy      string         `json:"resolvedBy,omitempty"`
	ResolvedAt      string         `json:"resolvedAt,omitempty" format:"date"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
	FollowUpOf      string         `json:"followUpOf,omitempty"`
}

// IsActive reports whether the issue still awaits an answer or review.
func (i Issue) IsActive() bool {
	return i.Status == IssueOpen || i.Status == IssueAnswered
}

type issueAlias Issue

func (i Issue) MarshalJSON() ([]byte, error) {
	aux := struct {
		issueAlias
		Response json.RawMessage `json:"response,omitempty"`
	}{issueAlias: issueAlias(i)}
	if i.Response != nil {
		raw, err := MarshalResponse(i.Response)
		if err != nil {
			return nil, fmt.Errorf("issue %s: %w", i.ID, err)
		}
		aux.Response = raw
	}
	return json.Marshal(aux)
}

func (i *Issue) UnmarshalJSON(data []byte) error {
	aux := struct {
		*issueAlias
		Response json.RawMessage `json:"response,omitempty"`
	}{issueAlias: (*issueAlias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.Response = nil
	if len(aux.Response) == 0 || string(aux.Response) == "null" {
		return nil
	}
	resp, err := UnmarshalResponse(aux.Response)
	if err != nil {
		return fmt.Errorf("issue %s: %w", i.ID, err)
	}
	i.Response = resp
	return nil
}
