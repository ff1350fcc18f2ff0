// Package detect runs the detection rules over a document and converges its
// auto-detection issues to the conditions that currently hold.
package detect

import (
	"time"

	"hometrack/internal/domain"
	"hometrack/internal/graph"
)

const dateLayout = "2006-01-02"

type Options struct {
	// Assignee receives newly created issues. Defaults to owner.
	Assignee domain.Person
	// Rules restricts the run to a subset. Issues of rules not run are left alone.
	Rules []Rule
}

type Result struct {
	Created     int      `json:"created"`
	Resolved    int      `json:"resolved"`
	Refreshed   int      `json:"refreshed"`
	CreatedIDs  []string `json:"createdIds,omitempty"`
	ResolvedIDs []string `json:"resolvedIds,omitempty"`
}

// Run evaluates every rule against every task, subtask and embedded material
// as of today. Missing issues are created, confirmed ones get lastChecked
// refreshed, and open auto-detection issues whose condition no longer holds
// are resolved. Running twice with the same inputs creates nothing new.
func Run(doc *domain.Document, today time.Time, opts Options) Result {
	day := today.Format(dateLayout)
	assignee := opts.Assignee
	if assignee == "" {
		assignee = domain.PersonOwner
	}
	rules := opts.Rules
	if len(rules) == 0 {
		rules = Rules
	}
	active := map[string]bool{}
	for _, r := range rules {
		active[r.String()] = true
	}

	entries := graph.AllTasks(doc)
	byID := make(map[string]*domain.Task, len(entries))
	blockedBy := map[string][]*domain.Task{}
	for _, e := range entries {
		if _, dup := byID[e.Task.ID]; !dup {
			byID[e.Task.ID] = e.Task
		}
		for _, dep := range e.Task.Dependencies {
			blockedBy[dep] = append(blockedBy[dep], e.Task)
		}
	}
	lookup := func(id string) *domain.Task { return byID[id] }

	var drafts []ruleDraft
	for _, e := range entries {
		subject := taskSubject{
			task:     e.Task,
			status:   domain.EffectiveStatus(e.Task, e.Parent),
			lookup:   lookup,
			blocking: others(blockedBy[e.Task.ID], e.Task),
			today:    day,
		}
		for _, r := range rules {
			if r.Scope() != ScopeTask {
				continue
			}
			if d, ok := r.matchTask(subject); ok {
				drafts = append(drafts, ruleDraft{rule: r, draft: d})
			}
		}
		for _, md := range e.Task.MaterialDependencies {
			if md.Material == nil {
				continue
			}
			ms := materialSubject{material: md.Material, owner: e.Task, today: day}
			for _, r := range rules {
				if r.Scope() != ScopeMaterial {
					continue
				}
				if d, ok := r.matchMaterial(ms); ok {
					drafts = append(drafts, ruleDraft{rule: r, draft: d})
				}
			}
		}
	}

	var res Result
	index := make(map[string]int, len(doc.Issues))
	for i, is := range doc.Issues {
		index[is.ID] = i
	}
	valid := map[string]bool{}
	for _, rd := range drafts {
		id := IssueID(rd.rule, rd.draft.entityID)
		if valid[id] {
			continue
		}
		valid[id] = true
		if i, ok := index[id]; ok {
			doc.Issues[i].LastChecked = day
			res.Refreshed++
			continue
		}
		doc.Issues = append(doc.Issues, domain.Issue{
			ID:              id,
			Created:         day,
			Type:            rd.rule.IssueType(),
			Prompt:          rd.draft.prompt,
			Assignee:        assignee,
			Status:          domain.IssueOpen,
			ReviewStatus:    domain.ReviewPending,
			RelatedTask:     rd.draft.relatedTask,
			RelatedMaterial: rd.draft.relatedMaterial,
			Source:          domain.SourceAutoDetection,
			DetectionRule:   rd.rule.String(),
			LastChecked:     day,
			Category:        rd.rule.Category(),
		})
		index[id] = len(doc.Issues) - 1
		res.Created++
		res.CreatedIDs = append(res.CreatedIDs, id)
	}

	for i := range doc.Issues {
		is := &doc.Issues[i]
		if is.Source != domain.SourceAutoDetection || valid[is.ID] {
			continue
		}
		if is.Status == domain.IssueResolved || is.Status == domain.IssueDismissed {
			continue
		}
		if is.DetectionRule != "" && !active[is.DetectionRule] {
			continue
		}
		is.Status = domain.IssueResolved
		is.ResolvedBy = domain.ResolvedByAuto
		is.ResolvedAt = day
		res.Resolved++
		res.ResolvedIDs = append(res.ResolvedIDs, is.ID)
	}
	return res
}

type ruleDraft struct {
	rule  Rule
	draft draft
}

func others(tasks []*domain.Task, self *domain.Task) []*domain.Task {
	var out []*domain.Task
	for _, t := range tasks {
		if t != self {
			out = append(out, t)
		}
	}
	return out
}
