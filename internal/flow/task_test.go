package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestFlow builds a context rooted in a temp dir with one input dataset
// holding n files named job_<i>.json.
func newTestFlow(t *testing.T, n int) (*Context, *Dataset) {
	t.Helper()
	root := t.TempDir()
	inputDir := filepath.Join(root, "input")
	require.NoError(t, os.MkdirAll(inputDir, 0o755))
	for i := 0; i < n; i++ {
		name := filepath.Join(inputDir, fmt.Sprintf("job_%d.json", i))
		require.NoError(t, os.WriteFile(name, []byte("{}"), 0o644))
	}
	ctx := NewFlowContext(filepath.Join(root, "flow"), map[string]string{
		ParamVirtualenv:       "/opt/venv",
		ParamTriggerPartition: "cpu",
	})
	ds, err := NewDataset(ctx, "raw", inputDir)
	require.NoError(t, err)
	return ctx, ds
}

func simpleSpec(name string, input DatasetRef) TaskSpec {
	return TaskSpec{
		Name:      name,
		Command:   "run.py --job %IN --output %OUT",
		Input:     input,
		Outputs:   map[string]string{"OUT": "output.json"},
		Partition: "gpu",
	}
}

func TestNewTask_PlaceholderValidation(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)

	_, err := NewTask(ctx, TaskSpec{
		Name:    "T1",
		Command: "run.py --output %OUT",
		Input:   DatasetHandle(ds),
		Outputs: map[string]string{"OUT": "output.json"},
	})
	assert.ErrorIs(t, err, ErrPlaceholderMissing, "missing %IN")

	_, err = NewTask(ctx, TaskSpec{
		Name:    "T1",
		Command: "run.py --job %IN",
		Input:   DatasetHandle(ds),
		Outputs: map[string]string{"OUT": "output.json"},
	})
	assert.ErrorIs(t, err, ErrPlaceholderMissing, "missing output key")

	_, err = NewTask(ctx, TaskSpec{
		Name:      "T1",
		Command:   "run.py --job %IN --output %OUT",
		Input:     DatasetHandle(ds),
		Outputs:   map[string]string{"OUT": "output.json"},
		Secondary: map[string]DatasetRef{"CAL": DatasetHandle(ds)},
	})
	assert.ErrorIs(t, err, ErrPlaceholderMissing, "missing secondary key")
}

func TestNewTask_WordBoundaryPlaceholders(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)

	// %INPUT alone must not satisfy the %IN requirement.
	_, err := NewTask(ctx, TaskSpec{
		Name:    "T1",
		Command: "run.py --job %INPUT --output %OUT",
		Input:   DatasetHandle(ds),
		Outputs: map[string]string{"OUT": "output.json", "INPUT": "copy.json"},
	})
	assert.ErrorIs(t, err, ErrPlaceholderMissing)
}

func TestNewTask_UniqueNamesAndDenseIDs(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)

	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	assert.Equal(t, 0, t1.TaskID)

	_, err = NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	assert.ErrorIs(t, err, ErrTaskExists)

	t2, err := NewTask(ctx, simpleSpec("T2", DatasetHandle(ds)))
	require.NoError(t, err)
	assert.Equal(t, 1, t2.TaskID)
}

func TestNewTask_OutputDatasetsAndEdges(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)

	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)

	out := ctx.Datasets["T1.output.json"]
	require.NotNil(t, out, "output dataset must be registered")
	assert.Equal(t, "T1", out.FromTask)
	assert.Equal(t, filepath.Join(ctx.Path, "datasets", "T1.output.json"), out.Path)

	t2, err := NewTask(ctx, simpleSpec("T2", DatasetByName("T1.output.json")))
	require.NoError(t, err)

	require.Len(t, t1.Next, 1)
	require.Len(t, t2.Prev, 1)
	assert.Same(t, t2, t1.Next[0])
	assert.Same(t, t1, t2.Prev[0])
	assert.Empty(t, t1.Prev)

	roots := ctx.RootTasks()
	require.Len(t, roots, 1)
	assert.Same(t, t1, roots[0])
}

func TestNewTask_SecondaryEdges(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)

	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)

	spec := simpleSpec("T2", DatasetHandle(ds))
	spec.Command = "run.py --job %IN --output %OUT --calib %CAL"
	spec.Secondary = map[string]DatasetRef{"CAL": DatasetByName("T1.output.json")}
	t2, err := NewTask(ctx, spec)
	require.NoError(t, err)

	require.Len(t, t2.Prev, 1)
	assert.Same(t, t1, t2.Prev[0])
}

func TestNewTask_MissingDatasetAndImage(t *testing.T) {
	ctx, _ := newTestFlow(t, 1)

	_, err := NewTask(ctx, simpleSpec("T1", DatasetByName("nope")))
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	spec := simpleSpec("T1", DatasetByName("raw"))
	spec.Image = ImageByName("nope")
	_, err = NewTask(ctx, spec)
	assert.ErrorIs(t, err, ErrImageNotFound)
}

func TestNewTask_RejectsSelfCycle(t *testing.T) {
	ctx, _ := newTestFlow(t, 1)

	// A dataset claiming to be produced by the task under construction
	// would close a cycle.
	evil, err := registerDataset(ctx, "evil", "/data/evil", "T1")
	require.NoError(t, err)
	_, err = NewTask(ctx, simpleSpec("T1", DatasetHandle(evil)))
	assert.ErrorIs(t, err, ErrCycle)
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

func TestSyncJobs_DeterministicAssignment(t *testing.T) {
	ctx, ds := newTestFlow(t, 3)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())

	require.Len(t, t1.Jobs, 3)
	for i, job := range t1.Jobs {
		assert.Equal(t, i, job.JobID)
		assert.Equal(t, fmt.Sprintf("job_%d.json", i), filepath.Base(job.InputFile))
	}

	// An independent fan-out in a fresh flow over the same inputs assigns
	// the same id to the same input filename.
	ctx2 := NewFlowContext(filepath.Join(t.TempDir(), "flow"), ctx.ExtraParams)
	ds2, err := NewDataset(ctx2, "raw", ds.Path)
	require.NoError(t, err)
	t2, err := NewTask(ctx2, simpleSpec("T1", DatasetHandle(ds2)))
	require.NoError(t, err)
	require.NoError(t, t2.Mkdir())
	require.Len(t, t2.Jobs, 3)
	for i := range t1.Jobs {
		assert.Equal(t, t1.Jobs[i].InputFile, t2.Jobs[i].InputFile)
		assert.Equal(t, t1.Jobs[i].JobID, t2.Jobs[i].JobID)
	}
}

func TestSyncJobs_Idempotent(t *testing.T) {
	ctx, ds := newTestFlow(t, 2)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())
	require.Len(t, t1.Jobs, 2)

	desc0 := t1.Jobs[0].DescriptorPath()
	before, err := os.Stat(desc0)
	require.NoError(t, err)

	require.NoError(t, t1.SyncJobs())
	assert.Len(t, t1.Jobs, 2, "no new jobs on an up-to-date state")

	after, err := os.Stat(desc0)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "descriptors are append-only")
}

func TestSyncJobs_PicksUpNewInputs(t *testing.T) {
	ctx, ds := newTestFlow(t, 2)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())

	newFile := filepath.Join(ds.Path, "job_9.json")
	require.NoError(t, os.WriteFile(newFile, []byte("{}"), 0o644))
	require.NoError(t, t1.SyncJobs())

	require.Len(t, t1.Jobs, 3)
	assert.Equal(t, 2, t1.Jobs[2].JobID, "new input gets the next dense id")
	assert.Equal(t, "job_9.json", filepath.Base(t1.Jobs[2].InputFile))
}

func TestTask_JobStateAccounting(t *testing.T) {
	ctx, ds := newTestFlow(t, 3)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())

	assert.True(t, t1.HasJobs())
	assert.Equal(t, []int{0, 1, 2}, t1.JobIDs(StateAssigned))

	require.NoError(t, t1.Jobs[1].Status().SetState(StateCompleted))
	assert.Equal(t, []int{0, 2}, t1.JobIDs(StateAssigned))

	counts := t1.Count()
	assert.Equal(t, 2, counts[StateAssigned])
	assert.Equal(t, 1, counts[StateCompleted])
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

func TestTask_Reset(t *testing.T) {
	ctx, ds := newTestFlow(t, 2)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())

	require.NoError(t, t1.Jobs[0].Status().SetState(StateFailed))
	require.NoError(t, t1.StatusFile().SetState(StateFailed))
	workFile := filepath.Join(t1.Path, "works", "job_0", "leftover")
	require.NoError(t, os.MkdirAll(filepath.Dir(workFile), 0o755))
	require.NoError(t, os.WriteFile(workFile, []byte("x"), 0o644))

	require.NoError(t, t1.Reset(false, true))

	assert.Equal(t, StateAssigned, t1.StatusFile().State())
	require.Len(t, t1.Jobs, 2)
	for _, job := range t1.Jobs {
		assert.Equal(t, StateAssigned, job.Status().State())
	}
	_, err = os.Stat(filepath.Dir(workFile))
	assert.True(t, os.IsNotExist(err), "workarea must be purged")
}

func TestTask_ResetGuardsCompleted(t *testing.T) {
	ctx, ds := newTestFlow(t, 1)
	t1, err := NewTask(ctx, simpleSpec("T1", DatasetHandle(ds)))
	require.NoError(t, err)
	require.NoError(t, t1.Mkdir())
	require.NoError(t, t1.StatusFile().SetState(StateCompleted))

	assert.Error(t, t1.Reset(false, false))
	assert.NoError(t, t1.Reset(true, false))
}
