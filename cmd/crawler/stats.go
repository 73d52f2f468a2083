package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"relentless-tracks/internal/models"
)

func printStats(out io.Writer, stats models.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Crawl " + string(stats.Status))
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"URLs in queue", stats.QueueSize},
		{"URLs visited", stats.VisitedCount},
		{"Pages failed", stats.PagesFailed},
		{"Tracks downloaded", stats.DownloadedCount},
		{"Tracks pending", stats.PendingCount},
		{"Tracks in progress", stats.InProgressCount},
		{"Tracks failed", stats.FailedCount},
	})
	t.Render()
}
