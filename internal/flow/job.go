package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JobOutput maps an output placeholder to the filename template and the
// dataset the produced file is published into.
type JobOutput struct {
	Filename string   `json:"filename"`
	Dataset  *Dataset `json:"dataset"`
}

// Job is one command invocation over one input file. The descriptor embeds
// resolved Dataset/Image objects so a job runner can execute without
// reloading the full flow.
type Job struct {
	TaskPath      string               `json:"task_path"`
	JobID         int                  `json:"job_id"`
	InputFile     string               `json:"input_file"`
	Outputs       map[string]JobOutput `json:"outputs"`
	SecondaryData map[string]*Dataset  `json:"secondary_data"`
	Image         *Image               `json:"image"`
	Command       string               `json:"command"`
	Binds         map[string]string    `json:"binds"`
	Envs          map[string]string    `json:"envs"`
}

// DescriptorPath is the immutable on-disk job descriptor location.
func (j *Job) DescriptorPath() string {
	return filepath.Join(j.TaskPath, "jobs", "inputs", fmt.Sprintf("job_%d.json", j.JobID))
}

// StatusPath is the job's persisted status location.
func (j *Job) StatusPath() string {
	return filepath.Join(j.TaskPath, "jobs", "status", fmt.Sprintf("job_%d.json", j.JobID))
}

// Status returns a handle on the job's status record.
func (j *Job) Status() *StatusFile {
	return NewStatusFile(j.StatusPath())
}

// Dump writes the job descriptor and its initial ASSIGNED status. The
// descriptor is written once at fan-out time and never rewritten.
func (j *Job) Dump() error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("job %d: marshal: %w", j.JobID, err)
	}
	if err := os.WriteFile(j.DescriptorPath(), data, 0o644); err != nil {
		return fmt.Errorf("job %d: write descriptor: %w", j.JobID, err)
	}
	return j.Status().Write(NewStatus(StateAssigned))
}

// LoadJob reads a job descriptor from path.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("job: read %q: %w", path, err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("job: unmarshal %q: %w", path, err)
	}
	return &j, nil
}
