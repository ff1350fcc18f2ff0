package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hometrack/internal/app"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/graph"
	"hometrack/internal/impact"
	"hometrack/internal/similarity"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDependentsCmd())
	task.AddCommand(taskTreeCmd())
	return task
}

type taskFilters struct {
	Status   string
	Category string
	Assignee string
}

func (f taskFilters) match(e graph.Entry) bool {
	if f.Status != "" && string(domain.EffectiveStatus(e.Task, e.Parent)) != f.Status {
		return false
	}
	if f.Category != "" && string(domain.EffectiveCategory(e.Task, e.Parent)) != f.Category {
		return false
	}
	if f.Assignee != "" && domain.EffectiveAssignee(e.Task, e.Parent) != domain.VendorRef(f.Assignee) {
		return false
	}
	return true
}

func taskListCmd() *cobra.Command {
	var f taskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks and subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				var entries []graph.Entry
				for _, e := range graph.AllTasks(doc) {
					if f.match(e) {
						entries = append(entries, e)
					}
				}
				if viper.GetBool("json") {
					tasks := make([]domain.Task, 0, len(entries))
					for _, e := range entries {
						tasks = append(tasks, *e.Task)
					}
					return printJSON(tasks)
				}
				tw := newTable("ID", "Name", "Status", "Category", "Dates", "Assignee")
				for _, e := range entries {
					name := e.Task.Name
					if e.Parent != nil {
						name = "  " + name
					}
					tw.AppendRow([]any{
						e.Task.ID, name,
						domain.EffectiveStatus(e.Task, e.Parent),
						domain.EffectiveCategory(e.Task, e.Parent),
						dateRange(e.Task.Start, e.Task.End),
						domain.EffectiveAssignee(e.Task, e.Parent),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "vendor id filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				t, _ := graph.FindTask(doc, args[0])
				if t == nil {
					return fmt.Errorf("%w: %s", engine.ErrTaskNotFound, args[0])
				}
				return printJSONOrIndented(t)
			})
		},
	}
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var status, category, priority string
	var deps []string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task, or a subtask with --parent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = strings.Join(args, " ")
			opts.Status = domain.TaskStatus(status)
			opts.Category = domain.Category(category)
			opts.Priority = domain.Priority(priority)
			opts.Dependencies = splitList(deps)
			opts.Force = viper.GetBool("force")
			var res engine.AddTaskResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				res, err = eng.AddTask(doc, opts)
				return err
			})
			if errors.Is(err, engine.ErrPossibleDuplicate) {
				printTaskMatches(res.Duplicates)
				return fmt.Errorf("%w (use --force to add anyway)", err)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res.Task)
			}
			fmt.Printf("Added task %s (%s)\n", res.Task.ID, res.Task.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (derived from the name when empty)")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&opts.Start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.End, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "vendor id")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency task ids")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var name, status, priority, start, end, assignee, notes string
	var addDeps, removeDeps []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:         args[0],
				Name:       name,
				Status:     domain.TaskStatus(status),
				Priority:   domain.Priority(priority),
				Start:      optionalString(cmd, "start", start),
				End:        optionalString(cmd, "end", end),
				Assign:     optionalString(cmd, "assignee", assignee),
				Notes:      optionalString(cmd, "notes", notes),
				AddDeps:    splitList(addDeps),
				RemoveDeps: splitList(removeDeps),
				Force:      viper.GetBool("force"),
			}
			var res engine.UpdateTaskResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				var err error
				res, err = eng.UpdateTask(doc, opts)
				return err
			})
			printImpacts(res.Impacts)
			if errors.Is(err, engine.ErrBlocked) {
				return fmt.Errorf("%w (use --force to apply anyway)", err)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Updated task %s [%s]\n", res.Task.ID, res.Task.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&start, "start", "", "start date, empty to clear")
	cmd.Flags().StringVar(&end, "end", "", "end date, empty to clear")
	cmd.Flags().StringVar(&assignee, "assignee", "", "vendor id, empty to clear")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&addDeps, "add-dep", nil, "dependency to add")
	cmd.Flags().StringSliceVar(&removeDeps, "remove-dep", nil, "dependency to remove")
	return cmd
}

func taskDependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <id>",
		Short: "List tasks that depend on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				if t, _ := graph.FindTask(doc, args[0]); t == nil {
					return fmt.Errorf("%w: %s", engine.ErrTaskNotFound, args[0])
				}
				deps := graph.FindDependentTasks(doc, args[0])
				if viper.GetBool("json") {
					if deps == nil {
						deps = []graph.Dependent{}
					}
					return printJSON(deps)
				}
				tw := newTable("ID", "Name", "Type", "Parent")
				for _, d := range deps {
					tw.AppendRow([]any{d.ID, d.Name, d.Type, d.Parent})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskTreeCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show tasks with their subtasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				var roots []domain.Task
				for _, t := range doc.Tasks {
					if status == "" || string(t.Status) == status {
						roots = append(roots, t)
					}
				}
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				for i, t := range roots {
					printTaskTree(t, nil, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "top-level status filter")
	return cmd
}

func printTaskTree(t domain.Task, parent *domain.Task, prefix string, last bool) {
	connector := "├── "
	next := prefix + "│   "
	if last {
		connector = "└── "
		next = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s]", prefix, connector, t.Name, domain.EffectiveStatus(&t, parent))
	if d := dateRange(t.Start, t.End); d != "" {
		fmt.Printf(" %s", d)
	}
	fmt.Println()
	for i, c := range t.Subtasks {
		printTaskTree(c, &t, next, i == len(t.Subtasks)-1)
	}
}

func printTaskMatches(matches []similarity.TaskMatch) {
	if len(matches) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "Possible duplicates:")
	for _, m := range matches {
		fmt.Fprintf(os.Stderr, "  %s %q score=%.2f %s\n", m.Task.ID, m.Task.Name, m.Score, strings.Join(m.Reasons, "; "))
	}
}

func printImpacts(impacts []impact.Impact) {
	for _, im := range impacts {
		target := ""
		if im.TaskID != "" {
			target = " (" + im.TaskID + ")"
		}
		fmt.Fprintf(os.Stderr, "%s: %s%s\n", im.Type, im.Message, target)
	}
}

func dateRange(start, end string) string {
	switch {
	case start == "" && end == "":
		return ""
	case end == "":
		return start + " .."
	case start == "":
		return ".. " + end
	}
	return start + " .. " + end
}
