package similarity

import (
	"fmt"
	"sort"

	"hometrack/internal/domain"
)

// Default gates used before creating tasks and questions.
const (
	DefaultNameThreshold     = 0.70
	DefaultTaskThreshold     = 0.50
	DefaultQuestionThreshold = 0.50
)

const (
	weightName     = 0.50
	weightNotes    = 0.25
	weightCategory = 0.15
	weightAssignee = 0.10

	weightPrompt      = 0.70
	weightSamePerson  = 0.15
	weightRelatedTask = 0.15
)

type TaskMatch struct {
	Task    domain.Task `json:"task"`
	Score   float64     `json:"score"`
	Reasons []string    `json:"reasons"`
}

type QuestionMatch struct {
	Issue   domain.Issue `json:"issue"`
	Score   float64      `json:"score"`
	Reasons []string     `json:"reasons"`
}

// TaskScore compares a candidate task with an existing one using the
// weighted name/notes/category/assignee blend.
func TaskScore(candidate, existing domain.Task) (float64, []string) {
	var reasons []string
	name := TextSimilarity(candidate.Name, existing.Name)
	notes := TextSimilarity(candidate.Notes, existing.Notes)
	score := weightName*name + weightNotes*notes
	if name > 0 {
		reasons = append(reasons, fmt.Sprintf("name %.0f%% similar", name*100))
	}
	if notes > 0 && (candidate.Notes != "" || existing.Notes != "") {
		reasons = append(reasons, fmt.Sprintf("notes %.0f%% similar", notes*100))
	}
	if candidate.Category == existing.Category {
		score += weightCategory
		if candidate.Category != "" {
			reasons = append(reasons, "same category")
		}
	}
	if candidate.Assignee == existing.Assignee {
		score += weightAssignee
		if candidate.Assignee != "" {
			reasons = append(reasons, "same assignee")
		}
	}
	return score, reasons
}

// FindSimilarTasks returns existing tasks scoring at or above threshold,
// best first.
func FindSimilarTasks(candidate domain.Task, existing []domain.Task, threshold float64) []TaskMatch {
	var out []TaskMatch
	for _, t := range existing {
		if t.ID != "" && t.ID == candidate.ID {
			continue
		}
		score, reasons := TaskScore(candidate, t)
		if score >= threshold {
			out = append(out, TaskMatch{Task: t, Score: score, Reasons: reasons})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Task.ID < out[j].Task.ID
	})
	return out
}

// FindSimilarNames is the quick name-only gate run before the rest of a new
// task is known.
func FindSimilarNames(name string, existing []domain.Task, threshold float64) []TaskMatch {
	var out []TaskMatch
	for _, t := range existing {
		score := TextSimilarity(name, t.Name)
		if score >= threshold {
			out = append(out, TaskMatch{Task: t, Score: score, Reasons: []string{fmt.Sprintf("name %.0f%% similar", score*100)}})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// QuestionScore compares prompts, assignee and related task.
func QuestionScore(candidate, existing domain.Issue) (float64, []string) {
	var reasons []string
	prompt := TextSimilarity(candidate.Prompt, existing.Prompt)
	score := weightPrompt * prompt
	if prompt > 0 {
		reasons = append(reasons, fmt.Sprintf("prompt %.0f%% similar", prompt*100))
	}
	if candidate.Assignee != "" && candidate.Assignee == existing.Assignee {
		score += weightSamePerson
		reasons = append(reasons, "same assignee")
	}
	if candidate.RelatedTask != "" && candidate.RelatedTask == existing.RelatedTask {
		score += weightRelatedTask
		reasons = append(reasons, "same task")
	}
	return score, reasons
}

// FindSimilarQuestions compares against questions that are still open or
// awaiting review.
func FindSimilarQuestions(candidate domain.Issue, existing []domain.Issue, threshold float64) []QuestionMatch {
	var out []QuestionMatch
	for _, is := range existing {
		if !is.IsActive() || (candidate.ID != "" && is.ID == candidate.ID) {
			continue
		}
		score, reasons := QuestionScore(candidate, is)
		if score >= threshold {
			out = append(out, QuestionMatch{Issue: is, Score: score, Reasons: reasons})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Issue.ID < out[j].Issue.ID
	})
	return out
}
