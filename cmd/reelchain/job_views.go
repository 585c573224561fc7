package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"reelchain/internal/api"
	"reelchain/internal/events"
	"reelchain/internal/textutil"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func renderJobTable(jobs []api.JobSummary, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		current := "-"
		if j.CurrentStage > 0 {
			current = fmt.Sprintf("%d (%s)", j.CurrentStage, humanLabel(j.CurrentStatus))
		}
		rows = append(rows, []string{
			shortID(j.ID),
			j.Name,
			colorizeLabel(humanLabel(j.Status), statusKindFor(j.Status), colorize),
			fmt.Sprintf("%d/%d", j.AcceptedStages, j.PlannedStages),
			current,
			strconv.Itoa(j.Attempts),
			formatDisplayTime(j.UpdatedAt),
		})
	}
	return renderTable(jobListColumns, rows, nil)
}

func renderJobDetail(j api.Job, colorize bool) string {
	var b strings.Builder
	for _, line := range renderSectionHeader("Job "+j.Name, colorize) {
		b.WriteString(line + "\n")
	}
	b.WriteString(renderStatusLine("ID", statusInfo, j.ID, false) + "\n")
	b.WriteString(renderStatusLine("Status", statusKindFor(j.Status), humanLabel(j.Phase), colorize) + "\n")
	b.WriteString(renderStatusLine("Stages", statusInfo, fmt.Sprintf("%d of %d accepted", j.AcceptedStages, j.PlannedStages), false) + "\n")
	b.WriteString(renderStatusLine("Next", statusInfo, j.NextAction, false) + "\n")
	b.WriteString(renderStatusLine("Directory", statusInfo, j.Dir, false) + "\n")
	b.WriteString(renderStatusLine("Resolution", statusInfo, fmt.Sprintf("%dx%d @ %d fps, %d frames/segment", j.Settings.Width, j.Settings.Height, j.Settings.FPS, j.Settings.FramesPerSegment), false) + "\n")
	if j.FinalOutputPath != "" {
		b.WriteString(renderStatusLine("Output", statusOK, j.FinalOutputPath, colorize) + "\n")
	}
	if j.Assembly != nil {
		detail := fmt.Sprintf("%s, %.1fs", j.Assembly.Strategy, j.Assembly.DurationSeconds)
		kind := statusOK
		if j.Assembly.FellBack {
			detail += " (fell back to re-encode)"
			kind = statusWarn
		}
		b.WriteString(renderStatusLine("Assembly", kind, detail, colorize) + "\n")
	}
	if j.PublishedURL != "" {
		b.WriteString(renderStatusLine("Published", statusOK, j.PublishedURL, colorize) + "\n")
	}
	if j.AssemblyError != nil {
		b.WriteString(renderStatusLine("Assembly error", statusError, formatErrorInfo(j.AssemblyError), colorize) + "\n")
	}
	if j.Failure != nil {
		b.WriteString(renderStatusLine("Failure", statusError, formatErrorInfo(j.Failure), colorize) + "\n")
	}

	if len(j.Stages) > 0 {
		b.WriteString("\n")
		b.WriteString(renderAttemptTable(j.Stages, colorize))
		b.WriteString("\n")
	}
	return b.String()
}

func renderAttemptTable(stages []api.Stage, colorize bool) string {
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		detail := s.SegmentPath
		if s.Error != nil {
			detail = formatErrorInfo(s.Error)
		}
		if detail == "" && s.RenderHandle != "" {
			detail = "handle " + s.RenderHandle
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Number),
			strconv.Itoa(s.Attempt + 1),
			colorizeLabel(humanLabel(s.Status), statusKindFor(s.Status), colorize),
			strconv.FormatInt(s.Seed, 10),
			textutil.Excerpt(s.Prompt, 48),
			detail,
		})
	}
	return renderTable(attemptColumns, rows, nil)
}

func formatErrorInfo(e *api.ErrorInfo) string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func formatEvent(evt events.Event, colorize bool) string {
	ts := evt.Timestamp.Local().Format("15:04:05")
	subject := evt.JobName
	if subject == "" {
		subject = shortID(evt.JobID)
	}
	if evt.StageIndex != nil {
		subject = fmt.Sprintf("%s stage %d", subject, *evt.StageIndex+1)
		if evt.Attempt > 0 {
			subject = fmt.Sprintf("%s (try %d)", subject, evt.Attempt+1)
		}
	}
	label := humanLabel(string(evt.Type))
	switch evt.Type {
	case events.StageFailed, events.JobFailed, events.AssemblyFailed:
		label = colorizeLabel(label, statusError, colorize)
	case events.JobAwaitingReview, events.AssemblyFallback:
		label = colorizeLabel(label, statusWarn, colorize)
	case events.JobCompleted, events.StageSucceeded, events.OutputPublished:
		label = colorizeLabel(label, statusOK, colorize)
	}
	line := fmt.Sprintf("%s  %-20s %s", ts, label, subject)
	if evt.Message != "" {
		line += ": " + evt.Message
	}
	return line
}

func formatDisplayTime(value string) string {
	if value == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04")
}
