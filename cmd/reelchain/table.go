package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns align right; a
// positive wrap soft-wraps long cells at that width.
type column struct {
	header  string
	numeric bool
	wrap    int
}

var (
	jobListColumns = []column{
		{header: "ID"},
		{header: "Name", wrap: 32},
		{header: "Status"},
		{header: "Stages", numeric: true},
		{header: "Current"},
		{header: "Attempts", numeric: true},
		{header: "Updated"},
	}
	attemptColumns = []column{
		{header: "Stage", numeric: true},
		{header: "Try", numeric: true},
		{header: "Status"},
		{header: "Seed", numeric: true},
		{header: "Prompt"},
		{header: "Segment / Error", wrap: 64},
	}
	planColumns = []column{
		{header: "Stage", numeric: true},
		{header: "Seconds", numeric: true},
		{header: "Frames", numeric: true},
	}
	loraColumns = []column{
		{header: "#", numeric: true},
		{header: "LoRA"},
	}
)

// renderTable lays rows out under columns. Short rows are padded; a non-nil
// footer is printed below a separator.
func renderTable(columns []column, rows [][]string, footer []string) string {
	if len(columns) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(tableRow(columns, headers(columns)))
	for _, row := range rows {
		tw.AppendRow(tableRow(columns, row))
	}
	if footer != nil {
		tw.AppendFooter(tableRow(columns, footer))
		tw.Style().Format.Footer = text.FormatDefault
	}

	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if col.numeric {
			cfg.Align = text.AlignRight
			cfg.AlignFooter = text.AlignRight
		}
		if col.wrap > 0 {
			cfg.WidthMax = col.wrap
			cfg.WidthMaxEnforcer = text.WrapSoft
		}
		configs[i] = cfg
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func headers(columns []column) []string {
	out := make([]string, len(columns))
	for i, col := range columns {
		out[i] = col.header
	}
	return out
}

func tableRow(columns []column, cells []string) table.Row {
	row := make(table.Row, len(columns))
	for i := range columns {
		if i < len(cells) {
			row[i] = cells[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
