package runner

import (
	"fmt"
	"path/filepath"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/slurm"
)

// failureTolerance is the fraction of failed jobs a task absorbs before it
// is classified FAILED and its successors are canceled.
const failureTolerance = 0.10

// RunInit runs the task-init phase: fan out and submit the job array for
// every assignable job, then submit the task-next phase gated on the
// array's success.
func RunInit(flowFile string, index int, dryRun bool) error {
	ctx := flow.NewContext()
	if err := flow.Load(flowFile, ctx); err != nil {
		return err
	}
	task, err := ctx.TaskByID(index)
	if err != nil {
		return err
	}
	logger := log.GetLogger().WithField("task", task.Name)
	logger.Info("initializing task")

	opts := map[string]string{
		"OUTPUT_FILE": filepath.Join(task.Path, "logs", fmt.Sprintf("task_end_%d.out", task.TaskID)),
		"ERROR_FILE":  filepath.Join(task.Path, "logs", fmt.Sprintf("task_end_%d.err", task.TaskID)),
		"JOB_NAME":    fmt.Sprintf("next-%d", task.TaskID),
		"PARTITION":   ctx.TriggerPartition(),
	}

	if task.HasJobs() {
		if err := task.StatusFile().SetState(flow.StateRunning); err != nil {
			return err
		}
		arrayID, err := task.Submit(dryRun)
		if err != nil {
			// Submission failure leaves the jobs in ASSIGNED so a later
			// retry can resubmit.
			logger.WithError(err).Error("array submission failed")
		}
		if arrayID != slurm.NoJobID {
			logger.Infof("submitted array job %d", arrayID)
			opts["DEPENDENCY"] = fmt.Sprintf("afterok:%d", arrayID)
		}
	} else {
		logger.Info("no assignable jobs, skipping array submission")
	}

	script, err := slurm.NewScript(
		filepath.Join(task.Path, "scripts", fmt.Sprintf("close_task_%d.sh", task.TaskID)), opts)
	if err != nil {
		return err
	}
	script.SetVirtualenv(ctx.Virtualenv())
	cmdline := fmt.Sprintf("%s run next -t %s -i %d",
		slurm.Executable(), filepath.Join(ctx.Path, "flow.json"), task.TaskID)
	script.Append(cmdline)
	if dryRun {
		fmt.Println(cmdline)
		return nil
	}
	if _, err := script.Submit(); err != nil {
		logger.WithError(err).Error("next-phase submission failed")
	}
	return nil
}

// RunNext runs the task-next phase: aggregate the job outcomes, classify
// the task, and either cascade into the successors' init phases or cancel
// the dependent subgraph.
func RunNext(flowFile string, index int, dryRun bool) error {
	ctx := flow.NewContext()
	if err := flow.Load(flowFile, ctx); err != nil {
		return err
	}
	task, err := ctx.TaskByID(index)
	if err != nil {
		return err
	}
	logger := log.GetLogger().WithField("task", task.Name)
	logger.Info("finalizing task")

	completed, failed, total := 0, 0, len(task.Jobs)
	for _, job := range task.Jobs {
		switch job.Status().State() {
		case flow.StateCompleted:
			completed++
		case flow.StateFailed:
			failed++
		}
	}

	var final flow.State
	switch {
	case completed == total:
		logger.Info("all jobs completed successfully")
		final = flow.StateCompleted
	case total > 0 && float64(failed)/float64(total) > failureTolerance:
		logger.Warnf("%d of %d jobs failed, over tolerance", failed, total)
		final = flow.StateFailed
	default:
		logger.Infof("%d of %d jobs failed, within tolerance", failed, total)
		final = flow.StateFinalized
	}
	if err := task.StatusFile().SetState(final); err != nil {
		return err
	}

	if final == flow.StateFailed {
		logger.Warn("canceling dependent tasks")
		if !dryRun {
			if err := cancelSuccessors(task, map[string]bool{}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, next := range task.Next {
		nextLogger := log.GetLogger().WithField("task", next.Name)
		nextLogger.Info("starting dependent task")
		opts := map[string]string{
			"OUTPUT_FILE": filepath.Join(next.Path, "logs", fmt.Sprintf("task_begin_%d.out", next.TaskID)),
			"ERROR_FILE":  filepath.Join(next.Path, "logs", fmt.Sprintf("task_begin_%d.err", next.TaskID)),
			"JOB_NAME":    fmt.Sprintf("init-%d", next.TaskID),
			"PARTITION":   ctx.TriggerPartition(),
		}
		script, err := slurm.NewScript(
			filepath.Join(next.Path, "scripts", fmt.Sprintf("init_task_%d.sh", next.TaskID)), opts)
		if err != nil {
			return err
		}
		script.SetVirtualenv(ctx.Virtualenv())
		cmdline := fmt.Sprintf("%s run task -t %s -i %d",
			slurm.Executable(), filepath.Join(ctx.Path, "flow.json"), next.TaskID)
		script.Append(cmdline)
		if dryRun {
			fmt.Println(cmdline)
			continue
		}
		if _, err := script.Submit(); err != nil {
			nextLogger.WithError(err).Error("init-phase submission failed")
		}
	}
	return nil
}

// cancelSuccessors marks every transitive successor CANCELED.
func cancelSuccessors(task *flow.Task, seen map[string]bool) error {
	for _, next := range task.Next {
		if seen[next.Name] {
			continue
		}
		seen[next.Name] = true
		log.GetLogger().WithField("task", next.Name).Warn("canceling task")
		if err := next.StatusFile().SetState(flow.StateCanceled); err != nil {
			return err
		}
		if err := cancelSuccessors(next, seen); err != nil {
			return err
		}
	}
	return nil
}
