package ui

import (
	"fmt"
	"strings"

	"github.com/desertthunder/whisparr-sync/internal/models"
)

// RenderOutcome formats a scene outcome for the terminal.
func (p *Palette) RenderOutcome(o *models.SyncOutcome) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s %s", p.Mark(o.State), p.Title("Scene "+o.SceneID), p.State(o.State))
	if o.Reason != "" {
		fmt.Fprintf(&b, " %s", p.Help("("+o.Reason+")"))
	}
	b.WriteString("\n")

	if o.Detail != "" && o.State != models.Succeeded {
		fmt.Fprintf(&b, "  %s\n", o.Detail)
	}
	if o.MovieID != 0 {
		fmt.Fprintf(&b, "  movie %d, %d/%d files processed in %s\n", o.MovieID, o.ProcessedFiles, len(o.Files), o.Duration().Round(1e6))
	}
	for _, f := range o.Files {
		switch {
		case f.Error != "":
			fmt.Fprintf(&b, "  %s %s: %s\n", p.Err("✗"), f.CatalogPath, f.Error)
		case f.AlreadyImported:
			fmt.Fprintf(&b, "  %s %s %s\n", p.Warn("="), f.CatalogPath, p.Help("already imported"))
		default:
			fmt.Fprintf(&b, "  %s %s\n", p.OK("✓"), f.ResolvedPath)
		}
	}
	for _, e := range o.Errors {
		if e.File == models.SceneLevel {
			fmt.Fprintf(&b, "  %s %s\n", p.Err("!"), e.Message)
		}
	}
	return b.String()
}

// RenderSummary is the closing line of a bulk run.
func (p *Palette) RenderSummary(total, succeeded, skipped, failed int) string {
	return fmt.Sprintf("%s %s, %s, %s",
		p.Title(fmt.Sprintf("%d scenes:", total)),
		p.OK(fmt.Sprintf("%d succeeded", succeeded)),
		p.Warn(fmt.Sprintf("%d skipped", skipped)),
		p.Err(fmt.Sprintf("%d failed", failed)),
	)
}
