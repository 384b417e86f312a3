package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/loykin/rendersup/pkg/client"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case OutputTable, OutputJSON, OutputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (table, json or yaml)", format)
}

// printValue renders v as JSON or YAML; table callers handle their own layout.
func printValue(out io.Writer, format string, v any) error {
	if format == OutputYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return printJSON(out, v)
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func printStatuses(out io.Writer, format string, sts []client.SurfaceStatus) error {
	if format != OutputTable {
		return printValue(out, format, sts)
	}
	if len(sts) == 0 {
		_, err := fmt.Fprintln(out, "No surfaces supervised")
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header("ID", "State", "Last URL", "Incidents", "Pending")
	for _, st := range sts {
		_ = table.Append(st.SurfaceID, st.State, st.LastURL, strconv.Itoa(st.Incidents), yesNo(st.Pending))
	}
	return table.Render()
}

func printReports(out io.Writer, format string, reps []client.Report) error {
	if format != OutputTable {
		return printValue(out, format, reps)
	}
	if len(reps) == 0 {
		_, err := fmt.Fprintln(out, "No crash reports")
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header("Time", "Surface", "Reason", "Recovery", "Previous URL")
	for _, r := range reps {
		_ = table.Append(r.Timestamp, r.SurfaceID, r.TerminationReason, outcome(r), prevURL(r))
	}
	return table.Render()
}

func outcome(r client.Report) string {
	switch {
	case !r.RecoveryAttempted:
		return "skipped"
	case r.RecoverySucceeded:
		return "succeeded"
	}
	return "failed"
}

func prevURL(r client.Report) string {
	if r.PreviousURL == nil {
		return "-"
	}
	return *r.PreviousURL
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
