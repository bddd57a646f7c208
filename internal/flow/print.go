package flow

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// PrintDatasets renders the dataset table.
func PrintDatasets(w io.Writer, ctx *Context) {
	t := newTable(w)
	t.AppendHeader(table.Row{"dataset", "num_files"})
	for _, ds := range ctx.SortedDatasets() {
		t.AppendRow(table.Row{ds.Name, ds.Len()})
	}
	t.Render()
}

// PrintImages renders the image table.
func PrintImages(w io.Writer, ctx *Context) {
	t := newTable(w)
	t.AppendHeader(table.Row{"image", "path"})
	for _, img := range ctx.SortedImages() {
		t.AppendRow(table.Row{img.Name, img.Path})
	}
	t.Render()
}

// PrintTasks renders the task table with per-state job counts.
func PrintTasks(w io.Writer, ctx *Context) {
	t := newTable(w)
	header := table.Row{"taskname", "task_id"}
	for _, st := range States {
		header = append(header, string(st))
	}
	header = append(header, "status")
	t.AppendHeader(header)
	for _, task := range ctx.SortedTasks() {
		row := table.Row{task.Name, task.TaskID}
		counts := task.Count()
		for _, st := range States {
			row = append(row, counts[st])
		}
		row = append(row, string(task.StatusFile().State()))
		t.AppendRow(row)
	}
	t.Render()
}
