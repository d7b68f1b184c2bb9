package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// OutputFormat selects how the sync command prints its report.
type OutputFormat int

const (
	OutputTable OutputFormat = iota
	OutputJSON
	OutputYAML
)

var outputFormatToString = map[OutputFormat]string{
	OutputTable: "table",
	OutputJSON:  "json",
	OutputYAML:  "yaml",
}

var stringToOutputFormat = util.InvertMap(outputFormatToString)

func (f OutputFormat) String() string {
	if s, ok := outputFormatToString[f]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(f))
}

// ParseOutputFormat converts "table", "json" or "yaml" to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	if f, ok := stringToOutputFormat[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("invalid output format %q: must be one of table, json, yaml", s)
}

// WriteResults prints the outcome of a pass in the given format.
func WriteResults(w io.Writer, results pathsync.Results, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	default:
		return writeTable(w, results)
	}
}

func writeTable(w io.Writer, results pathsync.Results) error {
	replicas := make([]string, 0, len(results))
	for r := range results {
		replicas = append(replicas, r)
	}
	sort.Strings(replicas)

	table := tablewriter.NewWriter(w)
	table.Header("Destination", "Added", "Updated", "Deleted", "Unchanged", "Ignored", "Errors", "Status")
	for _, r := range replicas {
		out := results[r]
		if out.Failed() {
			if err := table.Append([]string{r, "-", "-", "-", "-", "-", "-", "FAILED: " + out.Error}); err != nil {
				return err
			}
			continue
		}
		s := out.Stats
		status := "ok"
		if s.DryRun {
			status = "dry run"
		}
		if s.Errors() > 0 {
			status += " (with errors)"
		}
		row := []string{
			r,
			strconv.Itoa(s.Added()),
			strconv.Itoa(s.Updated()),
			strconv.Itoa(s.Deleted()),
			strconv.Itoa(s.Unchanged()),
			strconv.Itoa(s.Ignored()),
			strconv.Itoa(s.Errors()),
			status,
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	// Per-file errors are listed below the table.
	for _, r := range replicas {
		out := results[r]
		if out.Failed() || out.Stats.Errors() == 0 {
			continue
		}
		fmt.Fprintf(w, "\nErrors on %s:\n", r)
		for _, f := range out.Stats.ErrorFiles {
			fmt.Fprintf(w, "  %s: %s\n", f, out.Stats.FileErrors[f])
		}
	}
	return nil
}
