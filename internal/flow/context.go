// Package flow implements the dependency-aware workflow model: datasets,
// images, tasks with their job fan-out, the registry that owns them, and
// the flow.json serialization that carries the DAG across processes.
package flow

import (
	"fmt"
	"sort"
)

// Extra parameter keys carried in flow.json.
const (
	ParamVirtualenv       = "virtualenv"
	ParamTriggerPartition = "partition_for_trigger"
)

// Context is the registry owning every entity of one flow. Tasks, datasets
// and images reference each other by name through the context; the context
// is the only owner (no ownership cycles).
type Context struct {
	Path        string
	ExtraParams map[string]string
	Datasets    map[string]*Dataset
	Images      map[string]*Image
	Tasks       map[string]*Task
}

// NewContext returns an empty registry.
func NewContext() *Context {
	c := &Context{}
	c.Clear()
	return c
}

// Clear drops every registered entity and extra parameter.
func (c *Context) Clear() {
	c.Path = ""
	c.ExtraParams = map[string]string{}
	c.Datasets = map[string]*Dataset{}
	c.Images = map[string]*Image{}
	c.Tasks = map[string]*Task{}
}

// Param returns an extra parameter, "" when unset.
func (c *Context) Param(key string) string { return c.ExtraParams[key] }

// SetParam sets an extra parameter.
func (c *Context) SetParam(key, value string) { c.ExtraParams[key] = value }

// Virtualenv returns the virtualenv path sourced by generated scripts.
func (c *Context) Virtualenv() string { return c.Param(ParamVirtualenv) }

// TriggerPartition returns the partition used for task-init, task-next and
// root-trigger submissions.
func (c *Context) TriggerPartition() string { return c.Param(ParamTriggerPartition) }

// TaskByID looks a task up by its dense integer id.
func (c *Context) TaskByID(id int) (*Task, error) {
	for _, t := range c.Tasks {
		if t.TaskID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("task id %d: %w", id, ErrTaskNotFound)
}

// SortedTasks returns every task ordered by task id. Since ids are assigned
// in construction order and a consumer is always constructed after its
// producers, this is also a topological order of the DAG.
func (c *Context) SortedTasks() []*Task {
	tasks := make([]*Task, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks
}

// SortedDatasets returns every dataset ordered by name.
func (c *Context) SortedDatasets() []*Dataset {
	ds := make([]*Dataset, 0, len(c.Datasets))
	for _, d := range c.Datasets {
		ds = append(ds, d)
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Name < ds[j].Name })
	return ds
}

// SortedImages returns every image ordered by name.
func (c *Context) SortedImages() []*Image {
	imgs := make([]*Image, 0, len(c.Images))
	for _, img := range c.Images {
		imgs = append(imgs, img)
	}
	sort.Slice(imgs, func(i, j int) bool { return imgs[i].Name < imgs[j].Name })
	return imgs
}

// RootTasks returns tasks with no predecessors, ordered by task id.
func (c *Context) RootTasks() []*Task {
	var roots []*Task
	for _, t := range c.SortedTasks() {
		if len(t.Prev) == 0 {
			roots = append(roots, t)
		}
	}
	return roots
}
