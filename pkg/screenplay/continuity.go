package screenplay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"storyreel/pkg/llm"
	"storyreel/pkg/llm/prompts"
	"storyreel/pkg/model"
)

// ContinuityReport is the script supervisor's verdict on two adjacent scenes.
type ContinuityReport struct {
	IsValid      bool     `json:"is_valid"`
	Issues       []string `json:"issues"`
	Severity     string   `json:"severity"`
	SuggestedFix string   `json:"suggested_fix"`
}

// Notes turns the report into adaptation notes. A clean report yields none.
func (r ContinuityReport) Notes() []string {
	var notes []string
	severity := r.Severity
	if severity == "" {
		severity = "minor"
	}
	for _, issue := range r.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			notes = append(notes, fmt.Sprintf("Continuity (%s): %s", severity, issue))
		}
	}
	if len(notes) > 0 && strings.TrimSpace(r.SuggestedFix) != "" {
		notes = append(notes, "Continuity fix: "+strings.TrimSpace(r.SuggestedFix))
	}
	return notes
}

// checkContinuity compares prev with cur and appends any issues to cur's
// adaptation notes. Failures are logged and otherwise ignored.
func (c *Converter) checkContinuity(ctx context.Context, prev, cur *model.ScreenplayScene) {
	prompt, err := c.prompts.RenderProfile(llm.ProfileContinuity, prompts.ContinuityData{Previous: prev, Current: cur})
	if err != nil {
		slog.Warn("Continuity prompt failed", "error", err)
		return
	}
	var report ContinuityReport
	if err := c.caller.CallJSON(ctx, llm.ProfileContinuity, prompt, &report); err != nil {
		slog.Warn("Continuity check failed", "scene", cur.SlugLine, "error", err)
		return
	}
	notes := report.Notes()
	if len(notes) == 0 {
		return
	}
	slog.Info("Continuity issues flagged", "scene", cur.SlugLine, "severity", report.Severity, "issues", len(report.Issues))
	cur.AdaptationNotes = append(cur.AdaptationNotes, notes...)
}
