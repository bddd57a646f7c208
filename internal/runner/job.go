// Package runner implements the scheduler-launched phases of a flow: the
// per-job execution runtime and the task init/next drivers that advance
// the DAG.
package runner

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"firestige.xyz/strix/internal/flow"
	"firestige.xyz/strix/internal/log"
)

// JobOptions carries the runtime knobs for a single job execution.
type JobOptions struct {
	SingularityBin string
	PollInterval   time.Duration
}

// RunJob executes exactly one job: stage the workarea, run the command
// (inside the image when one is set), ping the status while it runs, and
// publish the outputs. Execution failures are recorded in the job status
// and do not produce a non-zero exit; only an unreadable descriptor or a
// failure to write the PENDING or COMPLETED state does.
func RunJob(inputPath, workarea string, opts JobOptions) error {
	job, err := flow.LoadJob(inputPath)
	if err != nil {
		return err
	}
	logger := log.GetLogger().WithField("job", job.JobID)
	logger.Infof("loaded job from %s", inputPath)

	status := job.Status()
	if err := status.Reset(); err != nil {
		return err
	}
	if err := status.SetState(flow.StatePending); err != nil {
		return err
	}

	if err := executeJob(job, workarea, opts, status); err != nil {
		logger.WithError(err).Error("job execution failed")
		if serr := status.SetState(flow.StateFailed); serr != nil {
			logger.WithError(serr).Error("recording FAILED state failed")
		}
		return nil
	}

	if err := status.Ping(); err != nil {
		logger.WithError(err).Warn("final ping failed")
	}
	if err := status.SetState(flow.StateCompleted); err != nil {
		return err
	}
	logger.Info("job completed successfully")
	return nil
}

// plannedOutput is a (workarea source, dataset destination) pair remembered
// during output planning.
type plannedOutput struct {
	source string
	target string
}

func executeJob(job *flow.Job, workarea string, opts JobOptions, status *flow.StatusFile) error {
	logger := log.GetLogger().WithField("job", job.JobID)

	if err := os.MkdirAll(workarea, 0o755); err != nil {
		return fmt.Errorf("create workarea %q: %w", workarea, err)
	}
	command := job.Command

	imagePath := ""
	if job.Image != nil {
		link, err := flow.Symlink(job.Image.Path, filepath.Join(workarea, filepath.Base(job.Image.Path)))
		if err != nil {
			return fmt.Errorf("stage image: %w", err)
		}
		imagePath = link
		logger.Infof("image linked to workarea at %s", link)
	}

	for _, key := range sortedKeys(job.SecondaryData) {
		ds := job.SecondaryData[key]
		link, err := flow.Symlink(ds.Path, filepath.Join(workarea, ds.Name))
		if err != nil {
			return fmt.Errorf("stage secondary %q: %w", ds.Name, err)
		}
		command = flow.ReplaceToken(command, key, link)
	}

	datasetName := filepath.Base(filepath.Dir(job.InputFile))
	inputLink, err := flow.Symlink(job.InputFile,
		filepath.Join(workarea, datasetName+"."+filepath.Base(job.InputFile)))
	if err != nil {
		return fmt.Errorf("stage input: %w", err)
	}
	command = flow.ReplaceToken(command, "IN", inputLink)

	var outputs []plannedOutput
	for _, key := range sortedOutputKeys(job.Outputs) {
		out := job.Outputs[key]
		ext := filepath.Ext(out.Filename)
		stem := out.Filename[:len(out.Filename)-len(ext)]
		versioned := fmt.Sprintf("%s.%d%s", stem, job.JobID, ext)
		source := filepath.Join(workarea, versioned)
		command = flow.ReplaceToken(command, key, source)
		outputs = append(outputs, plannedOutput{
			source: source,
			target: filepath.Join(out.Dataset.Path, versioned),
		})
	}

	entrypoint := filepath.Join(workarea, "entrypoint.sh")
	content := fmt.Sprintf("cd %s\n%s\n", workarea, command)
	if err := os.WriteFile(entrypoint, []byte(content), 0o755); err != nil {
		return fmt.Errorf("write entrypoint: %w", err)
	}
	logger.Infof("entrypoint script created at %s", entrypoint)

	var argv []string
	if job.Image != nil {
		argv = []string{opts.SingularityBin, "exec", "--nv", "--writable-tmpfs"}
		for _, src := range sortedKeys2(job.Binds) {
			argv = append(argv, "--bind", src+":"+job.Binds[src])
		}
		argv = append(argv, imagePath, "bash", entrypoint)
	} else {
		argv = []string{"bash", entrypoint}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = jobEnviron(job, workarea)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Infof("command: %v", argv)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	if err := status.SetState(flow.StateRunning); err != nil {
		return err
	}

	waitErr := supervise(cmd, status, opts.PollInterval, logger)
	if waitErr != nil {
		return fmt.Errorf("process exited with failure: %w", waitErr)
	}

	logger.Info("publishing output files")
	for _, out := range outputs {
		if _, err := os.Stat(out.source); err != nil {
			return fmt.Errorf("output file %q not found in workarea: %w", out.source, err)
		}
		if err := moveFile(out.source, out.target); err != nil {
			return fmt.Errorf("publish %q: %w", out.source, err)
		}
		if _, err := flow.Symlink(out.target, out.source); err != nil {
			return fmt.Errorf("link published output back: %w", err)
		}
	}
	return nil
}

// supervise waits for the process, pinging the status record between
// polls so watchers can tell the job is alive.
func supervise(cmd *exec.Cmd, status *flow.StatusFile, interval time.Duration, logger log.Logger) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			if err := status.Ping(); err != nil {
				logger.WithError(err).Warn("status ping failed")
			}
		}
	}
}

// jobEnviron composes the child environment: the inherited environment,
// the fixed orchestrator variables, then the job's own overrides last so
// they win.
func jobEnviron(job *flow.Job, workarea string) []string {
	ompThreads := envDefault("SLURM_CPUS_PER_TASK", "4")
	env := append(os.Environ(),
		"JOB_ID="+strconv.Itoa(job.JobID),
		"JOB_WORKAREA="+workarea,
		"TF_CPP_MIN_LOG_LEVEL=3",
		"CUDA_VISIBLE_ORDER=PCI_BUS_ID",
		"CUDA_VISIBLE_DEVICES="+envDefault("CUDA_VISIBLE_DEVICES", "-1"),
		"OMP_NUM_THREADS="+ompThreads,
		"SLURM_CPUS_PER_TASK="+ompThreads,
		"SLURM_MEM_PER_NODE="+envDefault("SLURM_MEM_PER_NODE", "2048"),
	)
	for _, key := range sortedKeys2(job.Envs) {
		env = append(env, key+"="+job.Envs[key])
	}
	return env
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// moveFile renames source to target, falling back to copy+remove when the
// rename crosses filesystems.
func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(source)
}

func sortedKeys(m map[string]*flow.Dataset) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedOutputKeys(m map[string]flow.JobOutput) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys2(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
