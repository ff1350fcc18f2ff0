package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hometrack/internal/app"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/impact"
	"hometrack/internal/validate"
)

func questionCmd() *cobra.Command {
	q := &cobra.Command{Use: "question", Aliases: []string{"q"}, Short: "Ask, answer and review questions"}
	q.AddCommand(questionListCmd())
	q.AddCommand(questionShowCmd())
	q.AddCommand(questionAddCmd())
	q.AddCommand(questionAnswerCmd())
	q.AddCommand(questionReviewCmd())
	q.AddCommand(questionAcceptCmd())
	q.AddCommand(questionRejectCmd())
	q.AddCommand(questionDismissCmd())
	return q
}

type issueFilters struct {
	Status   string
	Assignee string
	Source   string
	Task     string
	All      bool
}

func (f issueFilters) match(is domain.Issue) bool {
	if f.Status != "" {
		if string(is.Status) != f.Status {
			return false
		}
	} else if !f.All && (is.Status == domain.IssueResolved || is.Status == domain.IssueDismissed) {
		return false
	}
	if f.Assignee != "" && string(is.Assignee) != f.Assignee {
		return false
	}
	if f.Source != "" && string(is.Source) != f.Source {
		return false
	}
	if f.Task != "" && is.RelatedTask != f.Task {
		return false
	}
	return true
}

func questionListCmd() *cobra.Command {
	var f issueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open and answered questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				items := []domain.Issue{}
				for _, is := range doc.Issues {
					if f.match(is) {
						items = append(items, is)
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Type", "Status", "Review", "Assignee", "Task", "Prompt")
				for _, is := range items {
					tw.AppendRow([]any{is.ID, is.Type, is.Status, is.ReviewStatus, is.Assignee, is.RelatedTask, is.Prompt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "person filter")
	cmd.Flags().StringVar(&f.Source, "source", "", "source filter")
	cmd.Flags().StringVar(&f.Task, "task", "", "related task filter")
	cmd.Flags().BoolVar(&f.All, "all", false, "include resolved and dismissed")
	return cmd
}

func questionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				for _, is := range doc.Issues {
					if is.ID == args[0] {
						return printJSONOrIndented(is)
					}
				}
				return fmt.Errorf("%w: %s", engine.ErrIssueNotFound, args[0])
			})
		},
	}
}

func questionAddCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var typ, assignee, category string
	cmd := &cobra.Command{
		Use:   "add <prompt>",
		Short: "Ask a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Prompt = strings.Join(args, " ")
			opts.Type = domain.IssueType(typ)
			opts.Assignee = domain.Person(assignee)
			opts.Category = domain.ActionCategory(category)
			opts.Options = splitList(opts.Options)
			opts.Force = viper.GetBool("force")
			var res engine.AddIssueResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				res, err = eng.AddIssue(doc, opts)
				return err
			})
			if errors.Is(err, engine.ErrPossibleDuplicate) {
				fmt.Fprintln(os.Stderr, "Similar questions:")
				for _, m := range res.Duplicates {
					fmt.Fprintf(os.Stderr, "  %s %q score=%.2f %s\n", m.Issue.ID, m.Issue.Prompt, m.Score, strings.Join(m.Reasons, "; "))
				}
				return fmt.Errorf("%w (use --force to ask anyway)", err)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res.Issue)
			}
			fmt.Printf("Asked %s: %s\n", res.Issue.ID, res.Issue.Prompt)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "question type (default free-text)")
	cmd.Flags().StringSliceVar(&opts.Options, "option", nil, "choice for select-one questions")
	cmd.Flags().StringVar(&assignee, "assignee", "", "owner, partner or contractor")
	cmd.Flags().StringVar(&opts.RelatedTask, "task", "", "related task id")
	cmd.Flags().StringVar(&opts.RelatedMaterial, "material", "", "related material id")
	cmd.Flags().StringVar(&category, "category", "", "action category")
	return cmd
}

func questionAnswerCmd() *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "answer <id> [value...]",
		Short: "Answer a question",
		Long: `Answer a question. The value is read according to the question type:
  assignee         <vendor-id>
  date             <YYYY-MM-DD>
  date-range       <start> <end>
  dependency       <task-id>[,<task-id>...]
  yes-no           yes | no
  select-one       <option>
  material-status  <status>
  notification     (no value)
  free-text        <text...>
Use --raw to pass a JSON response instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var answered domain.Issue
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var typ domain.IssueType
				for _, is := range doc.Issues {
					if is.ID == args[0] {
						typ = is.Type
					}
				}
				if typ == "" {
					return fmt.Errorf("%w: %s", engine.ErrIssueNotFound, args[0])
				}
				var resp domain.Response
				var err error
				if raw != "" {
					resp, err = domain.UnmarshalResponse([]byte(raw))
				} else {
					resp, err = parseAnswer(typ, args[1:])
				}
				if err != nil {
					return err
				}
				answered, err = eng.Answer(doc, args[0], resp)
				return err
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(answered)
			}
			fmt.Printf("Answered %s; run 'ht question review %s' before accepting\n", answered.ID, answered.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&raw, "raw", "", `JSON response, e.g. {"type":"date","date":"2026-05-01"}`)
	return cmd
}

// parseAnswer reads command-line words as the response variant for typ.
func parseAnswer(typ domain.IssueType, args []string) (domain.Response, error) {
	one := func() (string, error) {
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return "", fmt.Errorf("%s answer takes exactly one value", typ)
		}
		return strings.TrimSpace(args[0]), nil
	}
	date := func(s string) error {
		if !validate.ValidDate(s) {
			return fmt.Errorf("%q is not a YYYY-MM-DD date", s)
		}
		return nil
	}
	switch typ {
	case domain.IssueAssignee:
		v, err := one()
		if err != nil {
			return nil, err
		}
		id, ok := domain.ParseVendorRef(v)
		if !ok {
			id = v
		}
		return domain.AssigneeResponse{VendorID: id}, nil
	case domain.IssueDate:
		v, err := one()
		if err != nil {
			return nil, err
		}
		if err := date(v); err != nil {
			return nil, err
		}
		return domain.DateResponse{Date: v}, nil
	case domain.IssueDateRange:
		if len(args) != 2 {
			return nil, fmt.Errorf("date-range answer takes a start and an end date")
		}
		for _, d := range args {
			if err := date(d); err != nil {
				return nil, err
			}
		}
		if args[1] < args[0] {
			return nil, fmt.Errorf("end %s is before start %s", args[1], args[0])
		}
		return domain.DateRangeResponse{Start: args[0], End: args[1]}, nil
	case domain.IssueDependency:
		ids := splitList(args)
		if len(ids) == 0 {
			return nil, fmt.Errorf("dependency answer needs at least one task id")
		}
		return domain.DependencyResponse{TaskIDs: ids}, nil
	case domain.IssueYesNo:
		v, err := one()
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(v) {
		case "yes", "y", "true":
			return domain.YesNoResponse{Value: true}, nil
		case "no", "n", "false":
			return domain.YesNoResponse{Value: false}, nil
		}
		return nil, fmt.Errorf("yes-no answer must be yes or no, got %q", v)
	case domain.IssueSelectOne:
		v, err := one()
		if err != nil {
			return nil, err
		}
		return domain.SelectOneResponse{Value: v}, nil
	case domain.IssueMaterialStatus:
		v, err := one()
		if err != nil {
			return nil, err
		}
		status := domain.MaterialStatus(v)
		if !domain.OneOf(status, domain.MaterialStatuses) {
			return nil, fmt.Errorf("unknown material status %q", v)
		}
		return domain.MaterialStatusResponse{Status: status}, nil
	case domain.IssueNotification:
		return domain.NotificationResponse{Acknowledged: true}, nil
	case domain.IssueFreeText:
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return nil, fmt.Errorf("free-text answer is empty")
		}
		return domain.FreeTextResponse{Text: text}, nil
	}
	return nil, fmt.Errorf("unknown question type %q", typ)
}

func questionReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <id>",
		Short: "Show what accepting an answer would change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(_ context.Context, s *app.Session) error {
				doc, err := s.Load()
				if err != nil {
					return err
				}
				rev, err := s.Engine(nil).Review(doc, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rev)
				}
				fmt.Printf("%s: %s\n", rev.Issue.ID, rev.Issue.Prompt)
				printChanges(rev.Changes)
				printImpacts(rev.Impacts)
				if impact.HasErrors(rev.Impacts) {
					fmt.Println("Accepting is blocked; use --force to accept anyway.")
				}
				return nil
			})
		},
	}
}

func questionAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept an answer and apply it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res engine.AcceptResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				res, err = eng.Accept(doc, args[0], viper.GetBool("force"))
				return err
			})
			printImpacts(res.Impacts)
			if errors.Is(err, engine.ErrBlocked) {
				return fmt.Errorf("%w (use --force to accept anyway)", err)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			printChanges(res.Changes)
			for _, f := range res.FollowUps {
				fmt.Printf("Follow-up %s: %s\n", f.ID, f.Prompt)
			}
			return nil
		},
	}
}

func questionRejectCmd() *cobra.Command {
	var reason, followUp string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject an answer with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res impact.RejectResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				res, err = eng.Reject(doc, args[0], reason, followUp)
				return err
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Rejected %s\n", args[0])
			if res.FollowUp != nil {
				fmt.Printf("Follow-up %s: %s\n", res.FollowUp.ID, res.FollowUp.Prompt)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the answer was rejected")
	cmd.Flags().StringVar(&followUp, "follow-up", "", "follow-up question to ask")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func questionDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Dismiss a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var is domain.Issue
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				is, err = eng.Dismiss(doc, args[0])
				return err
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(is)
			}
			fmt.Printf("Dismissed %s\n", is.ID)
			return nil
		},
	}
}

func printChanges(changes []impact.Change) {
	if len(changes) == 0 {
		fmt.Println("No changes.")
		return
	}
	tw := newTable("Entity", "ID", "Field", "Old", "New")
	for _, c := range changes {
		id := c.EntityID
		if c.Inherited {
			id += " (inherited)"
		}
		tw.AppendRow([]any{c.Entity, id, c.Field, c.OldValue, c.NewValue})
	}
	tw.Render()
}
