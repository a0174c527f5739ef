package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/trainyard/pkg/client"
	"github.com/cuemby/trainyard/pkg/manager"
	"github.com/cuemby/trainyard/pkg/types"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

var taskCreateCmd = &cobra.Command{
	Use:   "create NAME [IMAGE...]",
	Short: "Create a task, optionally uploading images and submitting it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		submit, _ := cmd.Flags().GetBool("submit")

		c := newClient(cmd)
		task, err := c.CreateTask(manager.TaskSpec{Name: args[0], Description: description})
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		fmt.Printf("✓ Task created: %s (ID: %d)\n", task.Name, task.ID)

		if images := args[1:]; len(images) > 0 {
			if task, err = c.UploadImages(task.ID, images...); err != nil {
				return fmt.Errorf("failed to upload images: %w", err)
			}
			fmt.Printf("✓ Uploaded %d images\n", len(task.Images))
		}

		if submit {
			if task, err = c.SubmitTask(task.ID); err != nil {
				return fmt.Errorf("failed to submit task: %w", err)
			}
			fmt.Printf("✓ Task submitted (status: %s)\n", task.Status)
		}
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetStringSlice("status")
		var statuses []types.TaskStatus
		for _, f := range filter {
			s, err := types.ParseTaskStatus(f)
			if err != nil {
				return err
			}
			statuses = append(statuses, s)
		}

		tasks, err := newClient(cmd).ListTasks(statuses...)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tIMAGES\tUPDATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Name, t.Status, progress(t), len(t.Images), t.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a task with its status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		task, err := newClient(cmd).GetTask(id)
		if err != nil {
			return err
		}

		fmt.Printf("Task %d: %s\n", task.ID, task.Name)
		fmt.Printf("  Status:   %s (%s)\n", task.Status, progress(task))
		fmt.Printf("  Images:   %d\n", len(task.Images))
		if task.ErrorMessage != "" {
			fmt.Printf("  Error:    %s\n", task.ErrorMessage)
		}
		if task.MarkedImagesPath != "" {
			fmt.Printf("  Marked:   %s\n", task.MarkedImagesPath)
		}
		if task.TrainingOutputPath != "" {
			fmt.Printf("  Trained:  %s\n", task.TrainingOutputPath)
		}
		fmt.Println()
		for _, stage := range task.History.Stages {
			fmt.Printf("%s  %s\n", stage.StartTime.Format("2006-01-02 15:04:05"), stage.Status)
			for _, l := range stage.Logs {
				line := l.Message
				if l.Count > 1 {
					line = fmt.Sprintf("%s (x%d)", line, l.Count)
				}
				fmt.Printf("    [%s] %s\n", l.Level, line)
			}
		}
		return nil
	},
}

// taskAction builds a command that calls fn on one task and prints the result
func taskAction(use, short string, fn func(c *client.Client, id int64, args []string) (*types.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, err := fn(newClient(cmd), id, args[1:])
			if err != nil {
				return err
			}
			fmt.Printf("✓ Task %d is now %s\n", task.ID, task.Status)
			return nil
		},
	}
}

var (
	taskSubmitCmd = taskAction("submit ID", "Queue a new task for marking",
		func(c *client.Client, id int64, _ []string) (*types.Task, error) {
			return c.SubmitTask(id)
		})

	taskStopCmd = taskAction("stop ID", "Stop a queued or running task",
		func(c *client.Client, id int64, _ []string) (*types.Task, error) {
			return c.StopTask(id)
		})

	taskRestartCmd = taskAction("restart ID labeling|training", "Run a stage again",
		func(c *client.Client, id int64, args []string) (*types.Task, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("stage is required: labeling or training")
			}
			stage, err := types.ParseCapability(args[0])
			if err != nil {
				return nil, err
			}
			return c.RestartTask(id, stage)
		})

	taskRollbackCmd = taskAction("rollback ID new|submitted|marked", "Move a task back to an earlier status",
		func(c *client.Client, id int64, args []string) (*types.Task, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("target status is required")
			}
			target, err := types.ParseTaskStatus(args[0])
			if err != nil {
				return nil, err
			}
			return c.RollbackTask(id, target)
		})

	taskUploadCmd = taskAction("upload ID IMAGE...", "Add images to a new task",
		func(c *client.Client, id int64, args []string) (*types.Task, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("at least one image is required")
			}
			return c.UploadImages(id, args...)
		})
)

var taskDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a task and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := newClient(cmd).DeleteTask(id); err != nil {
			return err
		}
		fmt.Printf("✓ Task %d deleted\n", id)
		return nil
	},
}

var taskExecutionsCmd = &cobra.Command{
	Use:   "executions ID",
	Short: "List the training attempts of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		execs, err := newClient(cmd).ListExecutions(id)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			fmt.Println("No training attempts")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ATTEMPT\tSTATUS\tASSET\tSTARTED\tFINAL LOSS\tOUTPUT")
		for _, e := range execs {
			loss := "-"
			if n := len(e.Loss); n > 0 {
				loss = strconv.FormatFloat(e.Loss[n-1].Loss, 'f', 4, 64)
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
				e.Attempt, e.Status, e.AssetID, e.StartedAt.Format("2006-01-02 15:04:05"), loss, e.OutputPath)
		}
		return w.Flush()
	},
}

func progress(t *types.Task) string {
	if !t.Status.InFlight() {
		return "-"
	}
	if t.Progress < 0 {
		return "?"
	}
	return strings.TrimSpace(fmt.Sprintf("%3d%%", t.Progress))
}

func init() {
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskGetCmd, taskSubmitCmd, taskStopCmd,
		taskRestartCmd, taskRollbackCmd, taskUploadCmd, taskDeleteCmd, taskExecutionsCmd)

	taskCreateCmd.Flags().String("description", "", "Task description")
	taskCreateCmd.Flags().Bool("submit", false, "Submit the task after uploading images")
	taskListCmd.Flags().StringSlice("status", nil, "Only list tasks in these statuses")
}
