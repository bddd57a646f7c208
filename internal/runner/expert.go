package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/log"
)

// ListJobs renders a table of every job, optionally filtered by a
// comma-separated list of states.
func ListJobs(w io.Writer, ctx *flow.Context, filterStatus string) {
	var filter map[string]bool
	if filterStatus != "" {
		filter = map[string]bool{}
		for _, s := range strings.Split(filterStatus, ",") {
			filter[strings.TrimSpace(s)] = true
		}
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"taskname", "task_id", "job_id", "status"})
	for _, task := range ctx.SortedTasks() {
		for _, job := range task.Jobs {
			state := string(job.Status().State())
			if filter != nil && !filter[state] {
				continue
			}
			t.AppendRow(table.Row{task.Name, task.TaskID, job.JobID, state})
		}
	}
	t.Render()
}

// ChangeJobsStatus transitions every job of a task currently in from to
// to. Returns the number of changed jobs.
func ChangeJobsStatus(ctx *flow.Context, taskID int, from, to flow.State) (int, error) {
	task, err := ctx.TaskByID(taskID)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, job := range task.Jobs {
		if job.Status().State() != from {
			continue
		}
		if err := job.Status().SetState(to); err != nil {
			return changed, err
		}
		changed++
	}
	log.GetLogger().Infof("task %s: changed %d jobs from %s to %s", task.Name, changed, from, to)
	return changed, nil
}

// ChangeTaskStatus forces a task's status to newState.
func ChangeTaskStatus(ctx *flow.Context, taskID int, newState flow.State) error {
	task, err := ctx.TaskByID(taskID)
	if err != nil {
		return err
	}
	old := task.StatusFile().State()
	if err := task.StatusFile().SetState(newState); err != nil {
		return err
	}
	log.GetLogger().Infof("task %s: status %s -> %s", task.Name, old, newState)
	return nil
}

// ResetTask returns a task and its jobs to ASSIGNED (see Task.Reset).
func ResetTask(ctx *flow.Context, taskID int, force, deleteWorkarea bool) error {
	task, err := ctx.TaskByID(taskID)
	if err != nil {
		return err
	}
	return task.Reset(force, deleteWorkarea)
}

// Retry makes every non-completed job of every non-completed task eligible
// again and re-triggers the root tasks.
func Retry(ctx *flow.Context, dryRun bool) error {
	logger := log.GetLogger().WithField("flow", ctx.Path)
	for _, task := range ctx.SortedTasks() {
		if task.StatusFile().State() == flow.StateCompleted {
			continue
		}
		for _, job := range task.Jobs {
			if job.Status().State() == flow.StateCompleted {
				continue
			}
			logger.Infof("retrying job %d of task %s", job.JobID, task.Name)
			if err := job.Status().SetState(flow.StateAssigned); err != nil {
				return err
			}
		}
		if err := task.StatusFile().SetState(flow.StateAssigned); err != nil {
			return err
		}
	}
	return flow.TriggerRoots(ctx, dryRun)
}

// LoadFlowDir opens the flow.json inside a flow directory.
func LoadFlowDir(dir string) (*flow.Context, error) {
	ctx := flow.NewContext()
	if err := flow.Load(fmt.Sprintf("%s/flow.json", dir), ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
