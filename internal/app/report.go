package app

import (
	"fmt"
	"strings"

	"github.com/commitgate/commitgate/internal/commit"
	"github.com/commitgate/commitgate/internal/diff"
	"github.com/commitgate/commitgate/internal/engine"
	"github.com/commitgate/commitgate/internal/export"
)

// renderCheck formats a commit record and its legitimacy report for terminal
// output.
func renderCheck(result engine.CheckResult) string {
	record := result.Record
	report := result.Report

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Commit %s in %s\n", record.ShortSHA(), record.Repository))
	builder.WriteString(fmt.Sprintf("Author:  %s <%s>\n", record.AuthorName, record.AuthorEmail))
	if !record.AuthoredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Date:    %s\n", record.AuthoredAt.Format("2006-01-02 15:04:05 MST")))
	}
	builder.WriteString(fmt.Sprintf("Message: %s\n", firstLine(record.Message)))
	builder.WriteString("\n")

	builder.WriteString(fmt.Sprintf("  GPG signature:   %s (%s)\n", passFail(report.GPGSigned), report.Signature))
	builder.WriteString(fmt.Sprintf("  Author known:    %s\n", passFail(report.AuthorKnown)))
	builder.WriteString(fmt.Sprintf("  Message present: %s\n", passFail(report.HasMessage)))
	builder.WriteString(fmt.Sprintf("  Date plausible:  %s\n", passFail(report.DateValid)))
	builder.WriteString("\n")

	if report.Verdict() {
		builder.WriteString("Verdict: all checks passed (advisory only)\n")
	} else {
		builder.WriteString("Verdict: one or more checks failed (advisory only)\n")
	}

	return builder.String()
}

func renderFileChanges(changes []commit.FileChange) string {
	if len(changes) == 0 {
		return "No file changes.\n"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%d file(s) changed:\n", len(changes)))
	for _, change := range changes {
		label := change.Path
		if change.PreviousPath != "" && change.PreviousPath != change.Path {
			label = fmt.Sprintf("%s -> %s", change.PreviousPath, change.Path)
		}
		builder.WriteString(fmt.Sprintf("  [%s] %s (+%d/-%d)\n", change.Status, label, change.Additions, change.Deletions))
	}
	return builder.String()
}

func renderDiff(d diff.Diff) string {
	if d.Unavailable {
		return "Diff unavailable for this commit.\n"
	}

	if d.Mode == diff.ModeAttachment {
		return fmt.Sprintf("Diff is %d bytes; too large for inline display, offer it as an attachment.\n", d.SizeBytes)
	}

	content := d.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content
}

func renderExport(result export.Result) string {
	var builder strings.Builder
	builder.WriteString("Export succeeded.\n")
	builder.WriteString(fmt.Sprintf("  Branch:     %s\n", result.BranchName))
	builder.WriteString(fmt.Sprintf("  New commit: %s\n", result.NewCommitSHA))
	if result.UpdatedFromSHA != "" {
		builder.WriteString(fmt.Sprintf("  Previous:   %s\n", result.UpdatedFromSHA))
	}
	return builder.String()
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}

func firstLine(message string) string {
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	return strings.TrimSpace(message)
}
