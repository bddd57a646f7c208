package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/flow"
)

const testCommand = "cp %IN %OUT"

func TestRunInit_DryRunMarksTaskRunning(t *testing.T) {
	_, flowFile := buildTestFlow(t, 2, 1, testCommand)
	require.NoError(t, RunInit(flowFile, 0, true))

	// Reload to observe the persisted state.
	reloaded := flow.NewContext()
	require.NoError(t, flow.Load(flowFile, reloaded))
	t1 := taskByName(t, reloaded, "T1")
	assert.Equal(t, flow.StateRunning, t1.StatusFile().State())
	for _, job := range t1.Jobs {
		assert.Equal(t, flow.StateAssigned, job.Status().State(),
			"dry-run must not consume the jobs")
	}
}

func TestRunInit_UnknownTask(t *testing.T) {
	_, flowFile := buildTestFlow(t, 1, 1, testCommand)
	assert.ErrorIs(t, RunInit(flowFile, 99, true), flow.ErrTaskNotFound)
}

// ---------------------------------------------------------------------------
// task-next classification: COMPLETED iff all N jobs completed, FAILED iff
// F/N > 0.10, FINALIZED otherwise.
// ---------------------------------------------------------------------------

func TestRunNext_AllCompleted(t *testing.T) {
	ctx, flowFile := buildTestFlow(t, 2, 2, testCommand)
	setJobStates(t, taskByName(t, ctx, "T1"), flow.StateCompleted, 2)

	require.NoError(t, RunNext(flowFile, 0, true))
	assert.Equal(t, flow.StateCompleted, taskByName(t, ctx, "T1").StatusFile().State())
}

func TestRunNext_FailureOverToleranceFails(t *testing.T) {
	// 2 failures out of 10 is 20%, over the 10% tolerance.
	ctx, flowFile := buildTestFlow(t, 10, 3, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateCompleted, 10)
	setJobStates(t, t1, flow.StateFailed, 2)

	require.NoError(t, RunNext(flowFile, 0, false))

	assert.Equal(t, flow.StateFailed, t1.StatusFile().State())
	// Every transitive successor is canceled and never submitted.
	assert.Equal(t, flow.StateCanceled, taskByName(t, ctx, "T2").StatusFile().State())
	assert.Equal(t, flow.StateCanceled, taskByName(t, ctx, "T3").StatusFile().State())
}

func TestRunNext_ToleratedMinorityFinalizes(t *testing.T) {
	// 1 failure out of 20 is 5%, within tolerance.
	ctx, flowFile := buildTestFlow(t, 20, 2, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateCompleted, 20)
	setJobStates(t, t1, flow.StateFailed, 1)

	require.NoError(t, RunNext(flowFile, 0, true))

	assert.Equal(t, flow.StateFinalized, t1.StatusFile().State())
	// Successors stay untouched on dry-run: they would be submitted, not
	// canceled.
	assert.Equal(t, flow.StateAssigned, taskByName(t, ctx, "T2").StatusFile().State())
}

func TestRunNext_BoundaryExactlyTenPercent(t *testing.T) {
	// 1 failure out of 10 is exactly 10%: not over tolerance, FINALIZED.
	ctx, flowFile := buildTestFlow(t, 10, 1, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateCompleted, 10)
	setJobStates(t, t1, flow.StateFailed, 1)

	require.NoError(t, RunNext(flowFile, 0, true))
	assert.Equal(t, flow.StateFinalized, t1.StatusFile().State())
}

// ---------------------------------------------------------------------------
// Expert operations
// ---------------------------------------------------------------------------

func TestChangeJobsStatus(t *testing.T) {
	ctx, _ := buildTestFlow(t, 3, 1, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateFailed, 2)

	changed, err := ChangeJobsStatus(ctx, 0, flow.StateFailed, flow.StateAssigned)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Len(t, t1.JobIDs(flow.StateAssigned), 3)
}

func TestRetry_MakesFailedWorkEligible(t *testing.T) {
	ctx, _ := buildTestFlow(t, 2, 2, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateFailed, 1)
	require.NoError(t, t1.StatusFile().SetState(flow.StateFailed))
	require.NoError(t, taskByName(t, ctx, "T2").StatusFile().SetState(flow.StateCanceled))

	require.NoError(t, Retry(ctx, true))

	assert.Equal(t, flow.StateAssigned, t1.StatusFile().State())
	assert.Len(t, t1.JobIDs(flow.StateAssigned), 2)
	assert.Equal(t, flow.StateAssigned, taskByName(t, ctx, "T2").StatusFile().State())
}

func TestRetry_SkipsCompletedTasks(t *testing.T) {
	ctx, _ := buildTestFlow(t, 1, 1, testCommand)
	t1 := taskByName(t, ctx, "T1")
	setJobStates(t, t1, flow.StateCompleted, 1)
	require.NoError(t, t1.StatusFile().SetState(flow.StateCompleted))

	require.NoError(t, Retry(ctx, true))
	assert.Equal(t, flow.StateCompleted, t1.StatusFile().State())
	assert.Equal(t, flow.StateCompleted, t1.Jobs[0].Status().State())
}
