package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/slurm"
)

// NewFlowContext returns a fresh context rooted at path carrying the given
// extra parameters.
func NewFlowContext(path string, extra map[string]string) *Context {
	ctx := NewContext()
	ctx.Path = path
	for key, value := range extra {
		ctx.SetParam(key, value)
	}
	return ctx
}

// Session drives one invocation of a declared flow: first run materializes
// the on-disk layout and triggers the root tasks; later runs verify the
// declared DAG still matches the persisted one.
type Session struct {
	ctx *Context
}

// NewSession wraps a fully-declared context.
func NewSession(ctx *Context) *Session {
	return &Session{ctx: ctx}
}

// FlowFile returns the flow.json path for this session.
func (s *Session) FlowFile() string {
	return filepath.Join(s.ctx.Path, "flow.json")
}

// Run executes the session. On a fresh flow directory it serializes the
// DAG, materializes every entity subtree and submits a trigger for each
// root task. On an existing one it verifies integrity: if the in-memory
// DAG serializes to different bytes than the persisted flow.json the run
// fails with ErrFlowMutated and nothing is submitted.
func (s *Session) Run(dryRun bool) error {
	logger := log.GetLogger().WithField("flow", s.ctx.Path)
	flowFile := s.FlowFile()

	if _, err := os.Stat(flowFile); os.IsNotExist(err) {
		logger.Info("no existing flow found, initializing")
		if err := s.mkdirLayout(); err != nil {
			return err
		}
		if err := Dump(s.ctx, flowFile); err != nil {
			return err
		}
		for _, img := range s.ctx.SortedImages() {
			if err := img.Mkdir(s.ctx.Path); err != nil {
				return err
			}
		}
		for _, ds := range s.ctx.SortedDatasets() {
			if err := ds.Mkdir(); err != nil {
				return err
			}
		}
		for _, t := range s.ctx.SortedTasks() {
			if err := t.Mkdir(); err != nil {
				return err
			}
		}
		if err := TriggerRoots(s.ctx, dryRun); err != nil {
			return err
		}
	} else {
		logger.Info("existing flow found, verifying integrity")
		current, err := Encode(s.ctx)
		if err != nil {
			return err
		}
		persisted, err := os.ReadFile(flowFile)
		if err != nil {
			return fmt.Errorf("flow: read %q: %w", flowFile, err)
		}
		if hashBytes(current) != hashBytes(persisted) {
			return fmt.Errorf("%w: create a new flow directory or remove %s", ErrFlowMutated, flowFile)
		}
		logger.Info("no changes detected, execution already in progress")
	}

	PrintImages(os.Stdout, s.ctx)
	PrintDatasets(os.Stdout, s.ctx)
	PrintTasks(os.Stdout, s.ctx)
	return nil
}

func (s *Session) mkdirLayout() error {
	for _, sub := range []string{"tasks", "datasets", "images"} {
		if err := os.MkdirAll(filepath.Join(s.ctx.Path, sub), 0o755); err != nil {
			return fmt.Errorf("flow: mkdir %q: %w", sub, err)
		}
	}
	return nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TriggerRoots submits a task-init trigger for every root task. On dry-run
// the commands are printed instead.
func TriggerRoots(ctx *Context, dryRun bool) error {
	logger := log.GetLogger().WithField("flow", ctx.Path)
	for _, t := range ctx.RootTasks() {
		cmdline := fmt.Sprintf("%s run task -t %s -i %d",
			slurm.Executable(), filepath.Join(ctx.Path, "flow.json"), t.TaskID)
		if dryRun {
			fmt.Println(cmdline)
			continue
		}
		logger.Infof("triggering root task %s", t.Name)
		script, err := slurm.NewScript(
			filepath.Join(t.Path, "scripts", fmt.Sprintf("trigger_task_%d.sh", t.TaskID)),
			map[string]string{
				"OUTPUT_FILE": filepath.Join(t.Path, "logs", fmt.Sprintf("trigger_%d.out", t.TaskID)),
				"ERROR_FILE":  filepath.Join(t.Path, "logs", fmt.Sprintf("trigger_%d.err", t.TaskID)),
				"JOB_NAME":    fmt.Sprintf("trigger-%d", t.TaskID),
				"PARTITION":   ctx.TriggerPartition(),
			})
		if err != nil {
			return err
		}
		script.SetVirtualenv(ctx.Virtualenv())
		script.Append(cmdline)
		if _, err := script.Submit(); err != nil {
			logger.WithError(err).Errorf("trigger submission for task %s failed", t.Name)
		}
	}
	return nil
}
