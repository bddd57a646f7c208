package flow

import (
	"fmt"

	"firestige.xyz/strix/internal/config"
)

// BuildPipeline declares a whole flow from a pipeline file. Datasets and
// images are registered first, then tasks in file order, so a producer is
// always declared before its consumers.
func BuildPipeline(pf *config.PipelineFile, defaults *config.Config) (*Session, error) {
	extra := map[string]string{
		ParamVirtualenv:       pf.Virtualenv,
		ParamTriggerPartition: pf.TriggerPartition,
	}
	if extra[ParamVirtualenv] == "" {
		extra[ParamVirtualenv] = defaults.Virtualenv
	}
	if extra[ParamTriggerPartition] == "" {
		extra[ParamTriggerPartition] = defaults.TriggerPartition
	}
	ctx := NewFlowContext(pf.Path, extra)

	for _, dd := range pf.Datasets {
		if _, err := NewDataset(ctx, dd.Name, dd.Path); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	for _, id := range pf.Images {
		if _, err := NewImage(ctx, id.Name, id.Path); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	tasks, err := pf.DecodeTasks()
	if err != nil {
		return nil, err
	}
	for _, pt := range tasks {
		spec := TaskSpec{
			Name:      pt.Name,
			Command:   pt.Command,
			Input:     DatasetByName(pt.Input),
			Outputs:   pt.Outputs,
			Partition: pt.Partition,
			Secondary: map[string]DatasetRef{},
			Binds:     pt.Binds,
			Envs:      pt.Envs,
		}
		if pt.Image != "" {
			spec.Image = ImageByName(pt.Image)
		}
		for key, name := range pt.Secondary {
			spec.Secondary[key] = DatasetByName(name)
		}
		if _, err := NewTask(ctx, spec); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}
	return NewSession(ctx), nil
}
