package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"readiness/internal/scoring"
	"readiness/internal/store"
)

const barWidth = 20

func scoreLine(kind scoring.Kind, value *int, band string, inverted bool) string {
	label := strings.ToUpper(string(kind[:1])) + string(kind[1:])
	if value == nil {
		return RenderMetric(label, mutedStyle.Render("no data"))
	}
	_, text := scoring.BandFor(kind, *value)
	color := bandColor(band, inverted)
	bar := RenderProgressBar(float64(*value)/100, barWidth, color)
	return RenderMetric(label, fmt.Sprintf("%3d  %s  %s", *value, bar, lipgloss.NewStyle().Foreground(color).Render(text)))
}

// DailyCard renders the day's scores, training load and any alerts as a card.
func DailyCard(rec *store.DailyRecord) string {
	title := headerStyle.Render("Readiness " + rec.Date)

	scores := []string{
		scoreLine(scoring.KindRecovery, rec.Recovery, rec.RecoveryBand, false),
		scoreLine(scoring.KindSleep, rec.Sleep, rec.SleepBand, false),
		scoreLine(scoring.KindStress, rec.StressAcute, rec.StressBand, true),
	}
	if rec.StressChronic != nil {
		scores = append(scores, RenderMetric("Chronic stress", fmt.Sprintf("%d", *rec.StressChronic)))
	}

	load := []string{
		cardTitleStyle.Render("Training Load"),
		RenderMetric("Fitness (CTL)", fmt.Sprintf("%.1f", rec.CTL)),
		RenderMetric("Fatigue (ATL)", fmt.Sprintf("%.1f", rec.ATL)),
		RenderMetric("Form (TSB)", fmt.Sprintf("%+.1f  %s", rec.TSB, rec.FormDescription)),
	}
	source := rec.LoadMethod
	if rec.LoadLowConfidence {
		source += ", low confidence"
	}
	if source != "" {
		load = append(load, mutedStyle.Render("source: "+source))
	}

	var notes []string
	if rec.StressAlert {
		notes = append(notes, alertStyle.Render(fmt.Sprintf("Stress above your threshold (%.0f)", rec.StressThreshold)))
	}
	if rec.IllnessSeverity != "" && rec.IllnessSeverity != "none" {
		notes = append(notes, alertStyle.Render("Possible illness: "+rec.IllnessSeverity))
	}

	sections := []string{title, lipgloss.JoinVertical(lipgloss.Left, scores...), "", lipgloss.JoinVertical(lipgloss.Left, load...)}
	if len(notes) > 0 {
		sections = append(sections, "", lipgloss.JoinVertical(lipgloss.Left, notes...))
	}
	if rec.Brief != "" {
		sections = append(sections, "", lipgloss.NewStyle().Width(60).Render(rec.Brief))
	}

	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

// Components lists the sub-scores of a record, grouped by score.
func Components(rec *store.DailyRecord) string {
	if len(rec.Components) == 0 {
		return mutedStyle.Render("no components")
	}
	keys := make([]string, 0, len(rec.Components))
	for k := range rec.Components {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, RenderMetric(k, fmt.Sprintf("%d", rec.Components[k])))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
