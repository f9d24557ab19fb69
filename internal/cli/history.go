package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pretorin/internal/agent"
	"pretorin/internal/timeutil"
)

// ShowHistory prints the most recent agent sessions.
func ShowHistory(ctx context.Context, app *App, limit int, jsonMode bool) error {
	history, err := app.History(ctx)
	if err != nil {
		return err
	}
	records, err := history.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if jsonMode {
		if records == nil {
			records = []agent.Record{}
		}
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(app.Out, "No agent sessions recorded yet")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(app.Out, "%s %s %s\n",
			mutedStyle.Render(fmt.Sprintf("%-14s", timeutil.Ago(r.StartedAt, time.Now()))),
			formatState(r.State),
			valueStyle.Render(truncateTask(r.Task, 60)))

		details := []string{shortID(r.ID), r.Model}
		if r.Skill != "" {
			details = append(details, "skill="+r.Skill)
		}
		if r.FinishedAt != nil {
			details = append(details, formatMillis(r.FinishedAt.Sub(r.StartedAt).Milliseconds()))
		}
		if r.EvidenceCount > 0 {
			details = append(details, fmt.Sprintf("%d evidence", r.EvidenceCount))
		}
		fmt.Fprintf(app.Out, "    %s\n", veryMutedStyle.Render(strings.Join(details, " · ")))
		if r.Error != "" {
			fmt.Fprintf(app.Out, "    %s\n", errorStyle.Render(firstLine(r.Error)))
		}
	}
	return nil
}

// ShowSession prints one recorded session in full.
func ShowSession(ctx context.Context, app *App, id string, jsonMode bool) error {
	history, err := app.History(ctx)
	if err != nil {
		return err
	}
	r, err := history.Get(ctx, id)
	if err != nil {
		return err
	}

	if jsonMode {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	label := func(name string) string {
		return labelStyle.Render(fmt.Sprintf("%-10s", name+":"))
	}
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(app.Out, "%s %s\n", label(name), valueStyle.Render(value))
		}
	}
	field("Session", r.ID)
	fmt.Fprintf(app.Out, "%s %s\n", label("State"), formatState(r.State))
	field("Task", r.Task)
	field("Skill", r.Skill)
	field("Model", r.Model)
	field("Endpoint", r.Endpoint)
	field("Directory", r.WorkingDir)
	field("Runtime", r.RuntimeVersion)
	field("Started", r.StartedAt.Format(time.RFC3339))
	if r.FinishedAt != nil {
		field("Duration", formatMillis(r.FinishedAt.Sub(r.StartedAt).Milliseconds()))
	}
	field("Response", fmt.Sprintf("%d chars, %d item(s), %d evidence", r.ResponseChars, r.ItemCount, r.EvidenceCount))
	if total := r.Usage.Total(); total > 0 {
		field("Tokens", fmt.Sprintf("%d", total))
	}
	if r.Error != "" {
		stage := r.FailedStage
		if stage != "" {
			stage = " (stage: " + stage + ")"
		}
		fmt.Fprintf(app.Out, "%s %s\n", label("Error"), errorStyle.Render(r.Error+stage))
	}
	return nil
}

// ShowSkills lists the skill catalogue.
func ShowSkills(app *App, jsonMode bool) error {
	skills, err := agent.ListSkills()
	if err != nil {
		return err
	}
	if jsonMode {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(skills)
	}
	for _, s := range skills {
		fmt.Fprintf(app.Out, "%s  %s\n", labelStyle.Render(s.Name), s.Description)
		if len(s.Tools) > 0 {
			fmt.Fprintf(app.Out, "    %s\n", mutedStyle.Render("tools: "+strings.Join(s.Tools, ", ")))
		}
	}
	return nil
}

func formatState(state agent.State) string {
	label := fmt.Sprintf("%-9s", state)
	switch state {
	case agent.StateCompleted:
		return successStyle.Render(label)
	case agent.StateFailed:
		return errorStyle.Render(label)
	case agent.StateCancelled:
		return warnStyle.Render(label)
	default:
		return mutedStyle.Render(label)
	}
}

func truncateTask(task string, max int) string {
	task = firstLine(task)
	runes := []rune(task)
	if len(runes) <= max {
		return task
	}
	return string(runes[:max-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PruneHistory keeps only the newest keep sessions.
func PruneHistory(ctx context.Context, app *App, keep int) error {
	history, err := app.History(ctx)
	if err != nil {
		return err
	}
	deleted, err := history.Prune(ctx, keep)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Removed %d session(s), kept the newest %d\n", deleted, keep)
	return nil
}
