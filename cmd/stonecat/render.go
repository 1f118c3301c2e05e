package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/JonMunkholm/stonecat/internal/core"
	"github.com/JonMunkholm/stonecat/internal/oplog"
)

// maxTableRows caps issue tables; the full list stays in the operation log.
const maxTableRows = 20

func progressText(name string, p core.Progress) string {
	if p.Total == 0 {
		return "Importing " + name
	}
	return fmt.Sprintf("Importing %s: %d/%d rows (%.0f%%), %d failed",
		name, p.Processed, p.Total, p.Percent(), p.Failed)
}

func resultText(res *core.ImportResult) string {
	if res.Failed == 0 {
		return fmt.Sprintf("Imported %d of %d rows", res.Success, res.Total)
	}
	return fmt.Sprintf("Imported %d of %d rows, %d failed", res.Success, res.Total, res.Failed)
}

func filterLogs(logs []oplog.Log, operation string) []oplog.Log {
	if operation == "" {
		return logs
	}
	out := make([]oplog.Log, 0, len(logs))
	for _, l := range logs {
		if string(l.Operation) == operation {
			out = append(out, l)
		}
	}
	return out
}

func logTable(logs []oplog.Log) pterm.TableData {
	data := pterm.TableData{{"ID", "Operation", "Type", "Status", "Started", "Duration", "Succeeded", "Failed", "Total"}}
	for _, l := range logs {
		duration := "-"
		if l.EndTime != nil {
			duration = l.EndTime.Sub(l.StartTime).Round(time.Millisecond).String()
		}
		data = append(data, []string{
			l.ID,
			string(l.Operation),
			l.Type,
			string(l.Status),
			l.StartTime.Local().Format("2006-01-02 15:04:05"),
			duration,
			strconv.Itoa(l.SuccessfulRecords),
			strconv.Itoa(l.FailedRecords),
			strconv.Itoa(l.TotalRecords),
		})
	}
	return data
}

func issueTable(issues []core.Issue) pterm.TableData {
	data := pterm.TableData{{"Row", "Field", "Message", "Value"}}
	for i, is := range issues {
		if i == maxTableRows {
			data = append(data, []string{"...", "", fmt.Sprintf("%d more", len(issues)-i), ""})
			break
		}
		data = append(data, []string{strconv.Itoa(is.Row), is.Field, is.Message, is.Value})
	}
	return data
}

func renderIssues(issues []core.Issue) error {
	return pterm.DefaultTable.WithHasHeader().WithData(issueTable(issues)).Render()
}

func renderRowErrors(errs []core.RowError) error {
	issues := make([]core.Issue, len(errs))
	for i, e := range errs {
		issues[i] = core.Issue{Row: e.Row, Field: string(e.Stage), Message: e.Message}
	}
	return renderIssues(issues)
}

func renderLogIssues(in []oplog.Issue) error {
	issues := make([]core.Issue, len(in))
	for i, e := range in {
		field := e.Field
		if field == "" {
			field = e.Stage
		}
		issues[i] = core.Issue{Row: e.Row, Field: field, Message: e.Message, Value: e.Value}
	}
	return renderIssues(issues)
}
