package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"pretorin/internal/doctor"
)

func Doctor(ctx context.Context, app *App, projectDir string, jsonMode bool) (int, error) {
	report := doctor.GenerateReport(ctx, doctor.Options{
		Cache:        app.Cache,
		Isolation:    app.Isolation,
		Registry:     app.Registry,
		Resolver:     app.Resolver,
		DatabasePath: app.DatabasePath(),
		ProjectDir:   projectDir,
	})

	if jsonMode {
		enc := json.NewEncoder(app.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return 1, err
		}
		return report.ExitCode(), nil
	}

	writeReport(app.Out, report)
	return report.ExitCode(), nil
}

func writeReport(out io.Writer, report doctor.Report) {
	fmt.Fprintln(out, sectionStyle.Render("Pretorin Agent Doctor"))
	fmt.Fprintln(out, strings.Repeat("-", 21))

	for _, check := range report.Checks {
		name := check.Name
		if check.Stage != "" {
			name += mutedStyle.Render(" [" + string(check.Stage) + "]")
		}
		fmt.Fprintf(out, "%s %s - %s\n", formatStatus(check.Status), name, check.Summary)
		for _, detail := range check.Details {
			fmt.Fprintf(out, "    %s\n", detail)
		}
		for _, action := range check.Actions {
			fmt.Fprintf(out, "    -> %s\n", action)
		}
		fmt.Fprintln(out)
	}

	if report.ExitCode() == 0 {
		fmt.Fprintln(out, "All checks completed")
	} else {
		fmt.Fprintln(out, "One or more checks failed")
	}
}

func formatStatus(status doctor.Status) string {
	switch status {
	case doctor.StatusOK:
		return successStyle.Render("[OK  ]")
	case doctor.StatusWarn:
		return warnStyle.Render("[WARN]")
	case doctor.StatusFail:
		return errorStyle.Render("[FAIL]")
	default:
		return "[    ]"
	}
}
