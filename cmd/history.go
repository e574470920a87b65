package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/weightfetch/weightfetch/internal/config"
	"github.com/weightfetch/weightfetch/internal/engine/state"
	"github.com/weightfetch/weightfetch/internal/engine/types"
	"github.com/weightfetch/weightfetch/internal/ui"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *state.Store) error {
				tasks, err := store.ListTasks(limit)
				if err != nil {
					return err
				}
				return a.printTaskList(cmd.OutOrStdout(), tasks)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of tasks to show (0 for all)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <task-id>",
			Short: "Show every item of a task",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(store *state.Store) error {
					rec, err := store.GetTask(args[0])
					if err != nil {
						return err
					}
					if rec == nil {
						return fmt.Errorf("task %s not found", args[0])
					}
					return a.printTaskDetail(cmd.OutOrStdout(), rec)
				})
			},
		},
		&cobra.Command{
			Use:   "rm <task-id>",
			Short: "Forget a task. Downloaded files are kept",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(func(store *state.Store) error {
					if err := store.DeleteTask(args[0]); err != nil {
						return err
					}
					if !a.jsonOut {
						fmt.Fprintln(cmd.OutOrStdout(), ui.Success("removed task %s", args[0]))
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withStore(fn func(*state.Store) error) error {
	store, err := state.Open(config.GetHistoryDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func (a *app) printTaskList(w io.Writer, tasks []state.TaskRecord) error {
	if a.jsonOut {
		views := make([]taskView, 0, len(tasks))
		for i := range tasks {
			views = append(views, newTaskView(&tasks[i]))
		}
		return json.NewEncoder(w).Encode(views)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, ui.LabelStyle.Render("no tasks recorded"))
		return nil
	}
	for _, t := range tasks {
		done := 0
		for _, it := range t.Items {
			if it.Status == types.StatusCompleted {
				done++
			}
		}
		fmt.Fprintf(w, "%s %s %s  %d/%d items\n",
			ui.IDStyle.Render(fmt.Sprintf("%-36s", t.ID)),
			ui.Status(t.Status, 9),
			ui.LabelStyle.Render(t.CreatedAt.Local().Format(time.DateTime)),
			done, len(t.Items))
	}
	return nil
}

func (a *app) printTaskDetail(w io.Writer, rec *state.TaskRecord) error {
	if a.jsonOut {
		return json.NewEncoder(w).Encode(newTaskView(rec))
	}
	rows := [][2]string{
		{"id", ui.IDStyle.Render(rec.ID)},
		{"status", ui.Status(rec.Status, 0)},
		{"created", rec.CreatedAt.Local().Format(time.DateTime)},
	}
	if !rec.FinishedAt.IsZero() {
		rows = append(rows, [2]string{"finished", rec.FinishedAt.Local().Format(time.DateTime)})
	}
	if rec.Error != "" {
		rows = append(rows, [2]string{"error", ui.ErrorStyle.Render(rec.Error)})
	}
	fmt.Fprint(w, ui.KeyValue(rows))
	fmt.Fprintln(w)
	for _, it := range rec.Items {
		fmt.Fprintf(w, "%3d %s %s\n", it.Index, ui.Status(string(it.Status), 12), it.DestPath)
		fmt.Fprintf(w, "    %s\n", ui.LabelStyle.Render(it.URL))
		if it.Error != "" {
			fmt.Fprintf(w, "    %s\n", ui.ErrorStyle.Render(it.Error))
		}
	}
	return nil
}
