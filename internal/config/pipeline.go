package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// PipelineFile is the declarative description of a whole flow, read from a
// YAML file by `strix flow create -f`.
type PipelineFile struct {
	Path             string            `yaml:"path"`
	Virtualenv       string            `yaml:"virtualenv"`
	TriggerPartition string            `yaml:"trigger_partition"`
	Datasets         []PipelineDataset `yaml:"datasets"`
	Images           []PipelineImage   `yaml:"images"`
	// Tasks are decoded in two steps (yaml → generic map → mapstructure)
	// so unknown keys are reported with the task's index attached.
	Tasks []map[string]interface{} `yaml:"tasks"`
}

// PipelineDataset declares a user-provided input dataset.
type PipelineDataset struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// PipelineImage declares a container image.
type PipelineImage struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// PipelineTask is one task entry of the pipeline file. Tasks are declared
// in dependency order: a task consuming another task's output must appear
// after its producer.
type PipelineTask struct {
	Name      string            `mapstructure:"name"`
	Command   string            `mapstructure:"command"`
	Input     string            `mapstructure:"input"`
	Outputs   map[string]string `mapstructure:"outputs"`
	Partition string            `mapstructure:"partition"`
	Image     string            `mapstructure:"image"`
	Secondary map[string]string `mapstructure:"secondary"`
	Binds     map[string]string `mapstructure:"binds"`
	Envs      map[string]string `mapstructure:"envs"`
}

// LoadPipeline reads and validates a pipeline file.
func LoadPipeline(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %q: %w", path, err)
	}
	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("pipeline: parse %q: %w", path, err)
	}
	if pf.Path == "" {
		return nil, fmt.Errorf("pipeline: %q: 'path' is required", path)
	}
	if len(pf.Tasks) == 0 {
		return nil, fmt.Errorf("pipeline: %q: at least one task is required", path)
	}
	return &pf, nil
}

// DecodeTasks converts the generic task maps into typed PipelineTask values,
// rejecting unknown keys.
func (pf *PipelineFile) DecodeTasks() ([]PipelineTask, error) {
	tasks := make([]PipelineTask, 0, len(pf.Tasks))
	for i, raw := range pf.Tasks {
		var pt PipelineTask
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:      &pt,
			ErrorUnused: true,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: task[%d]: %w", i, err)
		}
		if err := dec.Decode(raw); err != nil {
			return nil, fmt.Errorf("pipeline: task[%d]: %w", i, err)
		}
		if pt.Name == "" {
			return nil, fmt.Errorf("pipeline: task[%d]: 'name' is required", i)
		}
		if pt.Command == "" {
			return nil, fmt.Errorf("pipeline: task %q: 'command' is required", pt.Name)
		}
		if pt.Input == "" {
			return nil, fmt.Errorf("pipeline: task %q: 'input' is required", pt.Name)
		}
		tasks = append(tasks, pt)
	}
	return tasks, nil
}
