package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"firestige.xyz/strix/internal/flow"
)

// buildTestFlow materializes a flow with nInputs input files and a linear
// chain of `chain` tasks (T1 → T2 → …), then returns the reloaded context
// and the flow.json path.
func buildTestFlow(t *testing.T, nInputs, chain int, command string) (*flow.Context, string) {
	t.Helper()
	root := t.TempDir()
	inputDir := filepath.Join(root, "input")
	require.NoError(t, os.MkdirAll(inputDir, 0o755))
	for i := 0; i < nInputs; i++ {
		name := filepath.Join(inputDir, fmt.Sprintf("job_%d.json", i))
		require.NoError(t, os.WriteFile(name, []byte("{}"), 0o644))
	}

	ctx := flow.NewFlowContext(filepath.Join(root, "flow"), map[string]string{
		flow.ParamVirtualenv:       "",
		flow.ParamTriggerPartition: "cpu",
	})
	_, err := flow.NewDataset(ctx, "raw", inputDir)
	require.NoError(t, err)

	input := "raw"
	for i := 1; i <= chain; i++ {
		name := fmt.Sprintf("T%d", i)
		_, err := flow.NewTask(ctx, flow.TaskSpec{
			Name:      name,
			Command:   command,
			Input:     flow.DatasetByName(input),
			Outputs:   map[string]string{"OUT": "output.json"},
			Partition: "cpu",
		})
		require.NoError(t, err)
		input = name + ".output.json"
	}
	require.NoError(t, flow.NewSession(ctx).Run(true))

	flowFile := filepath.Join(ctx.Path, "flow.json")
	loaded := flow.NewContext()
	require.NoError(t, flow.Load(flowFile, loaded))
	return loaded, flowFile
}

func taskByName(t *testing.T, ctx *flow.Context, name string) *flow.Task {
	t.Helper()
	task := ctx.Tasks[name]
	require.NotNil(t, task)
	return task
}

func setJobStates(t *testing.T, task *flow.Task, state flow.State, n int) {
	t.Helper()
	for i, job := range task.Jobs {
		if i >= n {
			return
		}
		require.NoError(t, job.Status().SetState(state))
	}
}
