package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// tableColumn describes one column of CLI table output. Cells wider than
// maxWidth are cut with an ellipsis; zero leaves the column unbounded.
type tableColumn struct {
	title    string
	right    bool
	maxWidth int
}

func leftColumn(title string) tableColumn { return tableColumn{title: title} }

func rightColumn(title string) tableColumn { return tableColumn{title: title, right: true} }

func boundedColumn(title string, maxWidth int) tableColumn {
	return tableColumn{title: title, maxWidth: maxWidth}
}

func renderTable(columns []tableColumn, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if col.right {
			configs[i].Align = text.AlignRight
		}
		if col.maxWidth > 1 {
			configs[i].WidthMax = col.maxWidth
			configs[i].WidthMaxEnforcer = ellipsize
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

func ellipsize(value string, width int) string {
	if text.Trim(value, width) == value {
		return value
	}
	return text.Trim(value, width-1) + "…"
}
