package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/acm19/pixcanon/internal/pics"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// column is one table column: its header and how its cells line up.
type column struct {
	title string
	align text.Align
}

func left(title string) column  { return column{title: title, align: text.AlignLeft} }
func right(title string) column { return column{title: title, align: text.AlignRight} }

var (
	runSummaryColumns = []column{
		left("Directory"), right("Converted"), right("Recompressed"), right("Renamed"), right("Skipped"),
		right("Duplicates"), right("Failed"), right("Cancelled"), right("Before"), right("After"), left("Status"),
	}
	planColumns = []column{
		left("Directory"), right("Convert"), right("Recompress"), right("Rename"), right("Skip"),
		right("Unreadable"), right("To process"),
	}
)

// renderTable draws rows under columns with headers kept as written. Short
// rows are padded with empty cells.
func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		header[i] = c.title
		configs[i] = table.ColumnConfig{Number: i + 1, Align: c.align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		cells := make(table.Row, len(columns))
		for i := range cells {
			cells[i] = ""
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		tw.AppendRow(cells)
	}
	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderProgress consumes events until the channel closes. On a terminal it
// draws one progress bar per unit and moves log output to stderr.
func renderProgress(events <-chan pics.ProgressEvent, out io.Writer) {
	if !isTerminal(out) {
		for event := range events {
			if event.Stage == "scanning" {
				logger.Info("Entering unit", "unit", event.Unit, "files", event.Total)
			}
		}
		return
	}

	logger.SetOutput(os.Stderr)
	defer logger.SetOutput(os.Stdout)

	var (
		bar  *progressbar.ProgressBar
		unit string
	)
	for event := range events {
		switch event.Stage {
		case "scanning":
			if bar != nil {
				_ = bar.Finish()
			}
			unit = event.Unit
			bar = nil
		case "converting":
			if bar == nil || event.Unit != unit {
				unit = event.Unit
				bar = progressbar.NewOptions(event.Total,
					progressbar.OptionSetWriter(out),
					progressbar.OptionSetDescription(filepath.Base(unit)),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(30),
					progressbar.OptionClearOnFinish(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "#",
						SaucerPadding: "-",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}
			_ = bar.Set(event.Current)
			if event.ETA > 0 {
				bar.Describe(fmt.Sprintf("%s (eta %s)", filepath.Base(unit), event.ETA.Round(time.Second)))
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
}

func runSummaryRows(summary pics.RunSummary) [][]string {
	rows := make([][]string, 0, len(summary.Units))
	for _, u := range summary.Units {
		in, out := u.Bytes()
		status := "ok"
		if u.Err != nil {
			status = u.Err.Error()
		}
		rows = append(rows, []string{
			u.Dir,
			strconv.Itoa(u.CountAction(pics.ActionConvert)),
			strconv.Itoa(u.CountAction(pics.ActionRecompress)),
			strconv.Itoa(u.CountAction(pics.ActionRenameOnly)),
			strconv.Itoa(u.Skipped),
			strconv.Itoa(u.Duplicates()),
			strconv.Itoa(u.Count(pics.TaskFailed)),
			strconv.Itoa(u.Count(pics.TaskCancelled)),
			humanize.IBytes(uint64(in)),
			humanize.IBytes(uint64(out)),
			status,
		})
	}
	return rows
}

func renderRunSummary(summary pics.RunSummary) string {
	return renderTable(runSummaryColumns, runSummaryRows(summary))
}

// planRows counts planned actions per unit, units in path order.
func planRows(planned []pics.PlannedFile) [][]string {
	type counts struct {
		byAction map[pics.Action]int
		errors   int
		bytes    int64
	}
	perUnit := make(map[string]*counts)
	for _, p := range planned {
		c, ok := perUnit[p.Unit]
		if !ok {
			c = &counts{byAction: make(map[pics.Action]int)}
			perUnit[p.Unit] = c
		}
		if p.Err != nil {
			c.errors++
			continue
		}
		c.byAction[p.Action]++
		if p.Action != pics.ActionSkip {
			c.bytes += p.Asset.Size
		}
	}

	units := make([]string, 0, len(perUnit))
	for u := range perUnit {
		units = append(units, u)
	}
	sort.Strings(units)

	rows := make([][]string, 0, len(units))
	for _, u := range units {
		c := perUnit[u]
		rows = append(rows, []string{
			u,
			strconv.Itoa(c.byAction[pics.ActionConvert]),
			strconv.Itoa(c.byAction[pics.ActionRecompress]),
			strconv.Itoa(c.byAction[pics.ActionRenameOnly]),
			strconv.Itoa(c.byAction[pics.ActionSkip]),
			strconv.Itoa(c.errors),
			humanize.IBytes(uint64(c.bytes)),
		})
	}
	return rows
}

func renderPlan(planned []pics.PlannedFile) string {
	return renderTable(planColumns, planRows(planned))
}
