package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"readiness/internal/analysis"
)

// LoadChart plots fitness and fatigue over the trend. It returns an empty
// string when there is nothing to plot.
func LoadChart(trend []analysis.FitnessMetrics, width int) string {
	if len(trend) == 0 {
		return ""
	}
	if width <= 0 {
		width = 60
	}

	ctl := make([]float64, len(trend))
	atl := make([]float64, len(trend))
	for i, m := range trend {
		ctl[i] = m.CTL
		atl[i] = m.ATL
	}

	first, last := trend[0], trend[len(trend)-1]
	graph := asciigraph.PlotMany([][]float64{ctl, atl},
		asciigraph.Height(10),
		asciigraph.Width(width),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Red),
		asciigraph.Caption(fmt.Sprintf("CTL (green) / ATL (red), %s to %s",
			first.Date.Format("Jan 2"), last.Date.Format("Jan 2"))),
	)

	title := cardTitleStyle.Render("Training Load Trend")
	summary := RenderMetric("Today", fmt.Sprintf("CTL %.1f  ATL %.1f  TSB %+.1f  %s",
		last.CTL, last.ATL, last.TSB, analysis.FormDescription(last.TSB)))
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, graph, "", summary))
}
