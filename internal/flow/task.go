package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"firestige.xyz/strix/internal/log"
	"firestige.xyz/strix/internal/slurm"
)

// DatasetRef refers to a dataset either by registry name or by handle.
type DatasetRef struct {
	name string
	ds   *Dataset
}

// DatasetByName refers to a dataset registered under name.
func DatasetByName(name string) DatasetRef { return DatasetRef{name: name} }

// DatasetHandle refers to an already-resolved dataset.
func DatasetHandle(d *Dataset) DatasetRef { return DatasetRef{ds: d} }

func (r DatasetRef) resolve(ctx *Context) (*Dataset, error) {
	if r.ds != nil {
		return r.ds, nil
	}
	d, ok := ctx.Datasets[r.name]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", r.name, ErrDatasetNotFound)
	}
	return d, nil
}

// ImageRef refers to an image either by registry name or by handle. The
// zero value means "no image".
type ImageRef struct {
	name string
	img  *Image
}

// ImageByName refers to an image registered under name.
func ImageByName(name string) ImageRef { return ImageRef{name: name} }

// ImageHandle refers to an already-resolved image.
func ImageHandle(i *Image) ImageRef { return ImageRef{img: i} }

func (r ImageRef) resolve(ctx *Context) (*Image, error) {
	if r.img != nil {
		return r.img, nil
	}
	if r.name == "" {
		return nil, nil
	}
	img, ok := ctx.Images[r.name]
	if !ok {
		return nil, fmt.Errorf("image %q: %w", r.name, ErrImageNotFound)
	}
	return img, nil
}

// TaskSpec is the constructor input for a Task.
type TaskSpec struct {
	Name      string
	Command   string
	Input     DatasetRef
	Outputs   map[string]string // placeholder key → filename template
	Partition string
	Image     ImageRef
	Secondary map[string]DatasetRef
	Binds     map[string]string
	Envs      map[string]string
}

// Task is a named node in the DAG. It owns its job array and is connected
// to other tasks through the datasets it consumes and produces.
type Task struct {
	TaskID    int
	Name      string
	Command   string
	Partition string
	Input     *Dataset
	Outputs   map[string]*Dataset
	Secondary map[string]*Dataset
	Image     *Image
	Binds     map[string]string
	Envs      map[string]string
	Next      []*Task
	Prev      []*Task
	Jobs      []*Job
	Path      string

	ctx *Context
}

// NewTask validates spec, creates the task's output datasets, wires the
// dependency edges induced by its input and secondary datasets, and
// registers the task in the context.
func NewTask(ctx *Context, spec TaskSpec) (*Task, error) {
	if !HasToken(spec.Command, "IN") {
		return nil, fmt.Errorf("task %q: command lacks %%IN: %w", spec.Name, ErrPlaceholderMissing)
	}
	for key := range spec.Outputs {
		if !HasToken(spec.Command, key) {
			return nil, fmt.Errorf("task %q: command lacks %%%s for output: %w", spec.Name, key, ErrPlaceholderMissing)
		}
	}
	for key := range spec.Secondary {
		if !HasToken(spec.Command, key) {
			return nil, fmt.Errorf("task %q: command lacks %%%s for secondary data: %w", spec.Name, key, ErrPlaceholderMissing)
		}
	}
	if _, ok := ctx.Tasks[spec.Name]; ok {
		return nil, fmt.Errorf("task %q: %w", spec.Name, ErrTaskExists)
	}

	input, err := spec.Input.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("task %q: input: %w", spec.Name, err)
	}
	image, err := spec.Image.resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", spec.Name, err)
	}

	secondary := map[string]*Dataset{}
	for key, ref := range spec.Secondary {
		ds, err := ref.resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("task %q: secondary %q: %w", spec.Name, key, err)
		}
		secondary[key] = ds
	}

	// A task consuming a dataset produced by itself, directly or through
	// any producer chain, would close a cycle.
	for _, ds := range append([]*Dataset{input}, sortedDatasets(secondary)...) {
		if err := checkAncestry(ctx, ds, spec.Name); err != nil {
			return nil, fmt.Errorf("task %q: %w", spec.Name, err)
		}
	}

	t := &Task{
		TaskID:    len(ctx.Tasks),
		Name:      spec.Name,
		Command:   spec.Command,
		Partition: spec.Partition,
		Input:     input,
		Secondary: secondary,
		Image:     image,
		Binds:     copyMap(spec.Binds),
		Envs:      copyMap(spec.Envs),
		Outputs:   map[string]*Dataset{},
		Path:      filepath.Join(ctx.Path, "tasks", spec.Name),
		ctx:       ctx,
	}

	for key, filename := range spec.Outputs {
		name := t.Name + "." + filename
		out, err := registerDataset(ctx, name, filepath.Join(ctx.Path, "datasets", name), t.Name)
		if err != nil {
			return nil, fmt.Errorf("task %q: output %q: %w", spec.Name, key, err)
		}
		t.Outputs[key] = out
	}

	for _, ds := range append([]*Dataset{input}, sortedDatasets(secondary)...) {
		if ds.FromTask == "" {
			continue
		}
		producer, ok := ctx.Tasks[ds.FromTask]
		if !ok {
			return nil, fmt.Errorf("task %q: producer of %q: %w", spec.Name, ds.Name, ErrTaskNotFound)
		}
		producer.addNext(t)
		t.addPrev(producer)
	}

	ctx.Tasks[t.Name] = t
	t.loadExistingJobs()
	return t, nil
}

// checkAncestry walks the producer chain of ds and fails with ErrCycle if
// it reaches taskName.
func checkAncestry(ctx *Context, ds *Dataset, taskName string) error {
	seen := map[string]bool{}
	queue := []*Dataset{ds}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || cur.FromTask == "" {
			continue
		}
		if cur.FromTask == taskName {
			return fmt.Errorf("dataset %q is produced by %q: %w", ds.Name, taskName, ErrCycle)
		}
		if seen[cur.FromTask] {
			continue
		}
		seen[cur.FromTask] = true
		producer, ok := ctx.Tasks[cur.FromTask]
		if !ok {
			continue
		}
		queue = append(queue, producer.Input)
		queue = append(queue, sortedDatasets(producer.Secondary)...)
	}
	return nil
}

func sortedDatasets(m map[string]*Dataset) []*Dataset {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Dataset, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *Task) addNext(other *Task) {
	for _, n := range t.Next {
		if n == other {
			return
		}
	}
	t.Next = append(t.Next, other)
}

func (t *Task) addPrev(other *Task) {
	for _, p := range t.Prev {
		if p == other {
			return
		}
	}
	t.Prev = append(t.Prev, other)
}

// loadExistingJobs restores jobs already fanned out on disk.
func (t *Task) loadExistingJobs() {
	dir := filepath.Join(t.Path, "jobs", "inputs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	logger := log.GetLogger().WithField("task", t.Name)
	jobs := map[int]*Job{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		job, err := LoadJob(filepath.Join(dir, e.Name()))
		if err != nil {
			logger.WithError(err).Warnf("skipping unreadable job descriptor %s", e.Name())
			continue
		}
		jobs[job.JobID] = job
	}
	ids := make([]int, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		t.Jobs = append(t.Jobs, jobs[id])
	}
}

// StatusFile returns a handle on the task's status record.
func (t *Task) StatusFile() *StatusFile {
	return NewStatusFile(filepath.Join(t.Path, "status", "status.json"))
}

// OutputName returns the published dataset name for an output key.
func (t *Task) OutputName(key string) string {
	out, ok := t.Outputs[key]
	if !ok {
		return ""
	}
	return out.Name
}

// Mkdir materializes the task subtree and fans jobs out over the current
// input dataset contents.
func (t *Task) Mkdir() error {
	for _, sub := range []string{"works", "jobs/inputs", "jobs/status", "scripts", "logs", "status"} {
		if err := os.MkdirAll(filepath.Join(t.Path, sub), 0o755); err != nil {
			return fmt.Errorf("task %q: mkdir %q: %w", t.Name, sub, err)
		}
	}
	// The status record is created once; a re-run must not clobber the
	// state written by runners.
	sf := t.StatusFile()
	if _, err := os.Stat(sf.Path()); os.IsNotExist(err) {
		if err := sf.Write(NewStatus(StateAssigned)); err != nil {
			return err
		}
	}
	return t.SyncJobs()
}

// SyncJobs synchronizes the on-disk job set with the current contents of
// the input dataset. New input files get the next dense job id; existing
// job descriptors are never rewritten, which makes fan-out idempotent and
// restart-safe.
func (t *Task) SyncJobs() error {
	represented := map[string]bool{}
	for _, job := range t.Jobs {
		represented[filepath.Base(job.InputFile)] = true
	}
	files, err := t.Input.Files()
	if err != nil {
		return fmt.Errorf("task %q: %w", t.Name, err)
	}
	logger := log.GetLogger().WithField("task", t.Name)
	for _, file := range files {
		name := filepath.Base(file)
		if represented[name] {
			continue
		}
		id := len(t.Jobs)
		logger.Infof("preparing job %d for input file %s", id, name)
		outputs := map[string]JobOutput{}
		for key, ds := range t.Outputs {
			outputs[key] = JobOutput{
				Filename: strings.TrimPrefix(ds.Name, t.Name+"."),
				Dataset:  ds,
			}
		}
		job := &Job{
			TaskPath:      t.Path,
			JobID:         id,
			InputFile:     file,
			Outputs:       outputs,
			SecondaryData: t.Secondary,
			Image:         t.Image,
			Command:       t.Command,
			Binds:         t.Binds,
			Envs:          t.Envs,
		}
		if err := job.Dump(); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
		t.Jobs = append(t.Jobs, job)
		represented[name] = true
	}
	return nil
}

// JobIDs returns the ids of jobs currently in the given state.
func (t *Task) JobIDs(state State) []int {
	var ids []int
	for _, job := range t.Jobs {
		if job.Status().State() == state {
			ids = append(ids, job.JobID)
		}
	}
	return ids
}

// HasJobs reports whether at least one job is ready to be submitted.
func (t *Task) HasJobs() bool {
	if err := t.SyncJobs(); err != nil {
		log.GetLogger().WithError(err).Warnf("task %s: job sync failed", t.Name)
	}
	return len(t.JobIDs(StateAssigned)) > 0
}

// Count tallies jobs per state.
func (t *Task) Count() map[State]int {
	counts := map[State]int{}
	for _, st := range States {
		counts[st] = 0
	}
	for _, job := range t.Jobs {
		counts[job.Status().State()]++
	}
	return counts
}

// Submit builds a scheduler array job covering the jobs currently in
// ASSIGNED and submits it. Returns the scheduler array id, or
// slurm.NoJobID on dry-run or submission failure.
func (t *Task) Submit(dryRun bool) (int, error) {
	if err := t.SyncJobs(); err != nil {
		return slurm.NoJobID, err
	}
	ids := t.JobIDs(StateAssigned)
	array := make([]string, len(ids))
	for i, id := range ids {
		array[i] = strconv.Itoa(id)
	}

	script, err := slurm.NewScript(
		filepath.Join(t.Path, "scripts", fmt.Sprintf("run_task_%d.sh", t.TaskID)),
		map[string]string{
			"ARRAY":       strings.Join(array, ","),
			"OUTPUT_FILE": filepath.Join(t.Path, "works", "job_%a", "output.out"),
			"ERROR_FILE":  filepath.Join(t.Path, "works", "job_%a", "output.err"),
			"PARTITION":   t.Partition,
			"JOB_NAME":    fmt.Sprintf("run-%d", t.TaskID),
			"EXCLUSIVE":   "",
		})
	if err != nil {
		return slurm.NoJobID, err
	}
	script.SetVirtualenv(t.ctx.Virtualenv())
	script.Append(fmt.Sprintf("%s run job -i %s -o %s",
		slurm.Executable(),
		filepath.Join(t.Path, "jobs", "inputs", "job_$SLURM_ARRAY_TASK_ID.json"),
		filepath.Join(t.Path, "works", "job_$SLURM_ARRAY_TASK_ID")))

	if dryRun {
		fmt.Println(script.Command())
		return slurm.NoJobID, nil
	}
	return script.Submit()
}

// Reset returns the task and all its jobs to ASSIGNED. Completed and
// finalized tasks are only reset with force. Job descriptors and statuses
// are cleared and fanned out again; deleteWorkarea additionally purges the
// per-job scratch directories.
func (t *Task) Reset(force, deleteWorkarea bool) error {
	state := t.StatusFile().State()
	if (state == StateCompleted || state == StateFinalized) && !force {
		return fmt.Errorf("task %q is %s, use force to reset", t.Name, state)
	}
	for _, sub := range []string{"jobs/inputs", "jobs/status"} {
		if err := clearDir(filepath.Join(t.Path, sub)); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	if deleteWorkarea {
		if err := clearDir(filepath.Join(t.Path, "works")); err != nil {
			return fmt.Errorf("task %q: %w", t.Name, err)
		}
	}
	t.Jobs = nil
	if err := t.SyncJobs(); err != nil {
		return err
	}
	return t.StatusFile().Write(NewStatus(StateAssigned))
}

// clearDir removes every entry inside dir, keeping dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
