package flow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// flow.json wire format. encoding/json emits map keys sorted and struct
// fields in declaration order, so Encode is canonical: equal contexts
// serialize to equal bytes.

type datasetDoc struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	FromTask *string `json:"from_task"`
}

type imageDoc struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type taskDoc struct {
	TaskID        int               `json:"task_id"`
	Name          string            `json:"name"`
	Image         *string           `json:"image"`
	Command       string            `json:"command"`
	InputData     string            `json:"input_data"`
	Outputs       map[string]string `json:"outputs"`
	Partition     string            `json:"partition"`
	SecondaryData map[string]string `json:"secondary_data"`
	Binds         map[string]string `json:"binds"`
	Envs          map[string]string `json:"envs"`
	Next          []string          `json:"next"`
	Prev          []string          `json:"prev"`
}

type flowDoc struct {
	Path        string                `json:"path"`
	ExtraParams map[string]string     `json:"extra_params"`
	Datasets    map[string]datasetDoc `json:"datasets"`
	Images      map[string]imageDoc   `json:"images"`
	Tasks       map[string]taskDoc    `json:"tasks"`
}

// Encode serializes the context to its canonical flow.json bytes.
func Encode(ctx *Context) ([]byte, error) {
	doc := flowDoc{
		Path:        ctx.Path,
		ExtraParams: ctx.ExtraParams,
		Datasets:    map[string]datasetDoc{},
		Images:      map[string]imageDoc{},
		Tasks:       map[string]taskDoc{},
	}
	// Only user-provided datasets are serialized; task-produced datasets
	// are recreated from their task's outputs on load.
	for name, ds := range ctx.Datasets {
		if ds.FromTask != "" {
			continue
		}
		doc.Datasets[name] = datasetDoc{Name: ds.Name, Path: ds.Path, FromTask: nil}
	}
	for name, img := range ctx.Images {
		doc.Images[name] = imageDoc{Name: img.Name, Path: img.Path}
	}
	for _, t := range ctx.SortedTasks() {
		td := taskDoc{
			TaskID:        t.TaskID,
			Name:          t.Name,
			Command:       t.Command,
			InputData:     t.Input.Name,
			Outputs:       map[string]string{},
			Partition:     t.Partition,
			SecondaryData: map[string]string{},
			Binds:         t.Binds,
			Envs:          t.Envs,
			Next:          taskNames(t.Next),
			Prev:          taskNames(t.Prev),
		}
		if t.Image != nil {
			name := t.Image.Name
			td.Image = &name
		}
		for key, out := range t.Outputs {
			td.Outputs[key] = strings.TrimPrefix(out.Name, t.Name+".")
		}
		for key, ds := range t.Secondary {
			td.SecondaryData[key] = ds.Name
		}
		doc.Tasks[strconv.Itoa(t.TaskID)] = td
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("flow: encode: %w", err)
	}
	return data, nil
}

func taskNames(tasks []*Task) []string {
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.Name)
	}
	return names
}

// Dump writes the canonical serialization of ctx to path.
func Dump(ctx *Context, path string) error {
	data, err := Encode(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("flow: write %q: %w", path, err)
	}
	return nil
}

// Load reconstitutes a context from a persisted flow.json. Tasks are
// rebuilt in ascending task-id order, which is a topological order of the
// DAG, so every producer exists before its consumers resolve it.
func Load(path string, ctx *Context) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("flow: read %q: %w", path, err)
	}
	var doc flowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("flow: unmarshal %q: %w", path, err)
	}

	ctx.Clear()
	ctx.Path = doc.Path
	for key, value := range doc.ExtraParams {
		ctx.SetParam(key, value)
	}
	for _, dd := range doc.Datasets {
		if _, err := NewDataset(ctx, dd.Name, dd.Path); err != nil {
			return fmt.Errorf("flow: %w", err)
		}
	}
	for _, id := range doc.Images {
		if _, err := NewImage(ctx, id.Name, id.Path); err != nil {
			return fmt.Errorf("flow: %w", err)
		}
	}

	docs := make([]taskDoc, 0, len(doc.Tasks))
	for _, td := range doc.Tasks {
		docs = append(docs, td)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].TaskID < docs[j].TaskID })
	for _, td := range docs {
		spec := TaskSpec{
			Name:      td.Name,
			Command:   td.Command,
			Input:     DatasetByName(td.InputData),
			Outputs:   td.Outputs,
			Partition: td.Partition,
			Secondary: map[string]DatasetRef{},
			Binds:     td.Binds,
			Envs:      td.Envs,
		}
		if td.Image != nil {
			spec.Image = ImageByName(*td.Image)
		}
		for key, name := range td.SecondaryData {
			spec.Secondary[key] = DatasetByName(name)
		}
		t, err := NewTask(ctx, spec)
		if err != nil {
			return fmt.Errorf("flow: %w", err)
		}
		if t.TaskID != td.TaskID {
			return fmt.Errorf("flow: task %q: stored id %d, rebuilt id %d", td.Name, td.TaskID, t.TaskID)
		}
	}
	return nil
}

// Hash returns the SHA-256 of the file at path, hex-encoded.
func Hash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("flow: hash %q: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
