package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

var (
	crashListHeaders = []string{"ID", "Package", "Executable", "Count", "Reported", "Time"}
	crashListAligns  = []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	pluginHeaders    = []string{"Name", "Type", "Enabled", "Version", "Description"}
)

func crashListRows(infos []map[string]string) [][]string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		pkg := info["package"]
		if pkg == "" {
			pkg = "-"
		}
		rows = append(rows, []string{
			info["crash_id"],
			pkg,
			info["executable"],
			info["count"],
			info["reported"],
			formatCrashTime(info["time"]),
		})
	}
	return rows
}

func unreported(infos []map[string]string) []map[string]string {
	out := infos[:0:0]
	for _, info := range infos {
		if info["reported"] != "yes" {
			out = append(out, info)
		}
	}
	return out
}

func pluginRows(infos []map[string]string) [][]string {
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{info["Name"], info["Type"], info["Enabled"], info["Version"], info["Description"]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return rows
}

func formatCrashTime(raw string) string {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return raw
	}
	return time.Unix(secs, 0).Local().Format("2006-01-02 15:04:05")
}

var labelCaser = cases.Title(language.Und)

// fieldLabel turns a dump field name such as "crash_id" into "Crash Id".
func fieldLabel(name string) string {
	return labelCaser.String(strings.ReplaceAll(name, "_", " "))
}

// printRecord writes short fields as an aligned list and multi-line fields
// such as backtraces as indented blocks after them.
func printRecord(w io.Writer, record map[string]string) {
	keys := make([]string, 0, len(record))
	width := 0
	for k := range record {
		keys = append(keys, k)
		if l := len(fieldLabel(k)); l > width {
			width = l
		}
	}
	sort.Strings(keys)

	var blocks []string
	for _, k := range keys {
		value := record[k]
		if k == "time" {
			value = formatCrashTime(value)
		}
		if strings.Contains(value, "\n") {
			blocks = append(blocks, k)
			continue
		}
		fmt.Fprintf(w, "%-*s  %s\n", width+1, fieldLabel(k)+":", value)
	}
	for _, k := range blocks {
		fmt.Fprintf(w, "\n%s:\n", fieldLabel(k))
		for _, line := range strings.Split(strings.TrimRight(record[k], "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const statusLabelWidth = 16

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	status := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		status += " " + message
	}
	line := fmt.Sprintf("%-*s %s", statusLabelWidth, label+":", status)
	if colorize {
		return statusKindColor(kind) + line + ansiReset
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
