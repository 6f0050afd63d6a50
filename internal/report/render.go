package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/errlens/internal/model"
)

const (
	defaultWidth = 100
	chartHeight  = 8
	legendWidth  = 18
	maxTableRows = 20
	maxMessage   = 60
)

// seriesColors are assigned to error ids by rank.
var seriesColors = []string{"196", "208", "220", "39", "201", "42", "141", "244"}

// RenderConfig holds optional rendering parameters.
type RenderConfig struct {
	Width int
}

// Render writes a terminal report: header, per-minute chart, ranked issue
// table and analysis text.
func Render(w io.Writer, r *model.Report, conf ...RenderConfig) error {
	width := defaultWidth
	if len(conf) > 0 && conf[0].Width > 0 {
		width = conf[0].Width
	}
	re := lipgloss.NewRenderer(w)
	st := newStyles(re)

	sections := []string{header(st, r)}
	if r.Count > 0 {
		sections = append(sections,
			st.title.Render("Errors per minute"),
			chart(re, st, r.Summary, width),
			st.title.Render("Issue groups"),
			table(st, r.Summary),
		)
		if strings.TrimSpace(r.AnalysisText) != "" {
			sections = append(sections,
				st.title.Render("Analysis"),
				st.body.Width(width).Render(r.AnalysisText),
			)
		}
	}

	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, sections...))
	return err
}

type styles struct {
	title, dim, body, ok, warn, bad, bold lipgloss.Style
}

func newStyles(re *lipgloss.Renderer) styles {
	return styles{
		title: re.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginTop(1),
		dim:   re.NewStyle().Foreground(lipgloss.Color("240")),
		body:  re.NewStyle(),
		ok:    re.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  re.NewStyle().Foreground(lipgloss.Color("220")),
		bad:   re.NewStyle().Foreground(lipgloss.Color("196")),
		bold:  re.NewStyle().Bold(true),
	}
}

func header(st styles, r *model.Report) string {
	name := r.Channel.Name
	if name == "" {
		name = r.Channel.ID()
	}
	status := st.ok.Render("● no errors")
	switch {
	case r.Count < 0 || r.Status == model.StatusFailed:
		status = st.bad.Render("● failed")
	case r.Count > 0:
		status = st.warn.Render(fmt.Sprintf("● %d errors in %d groups", r.Count, len(r.Summary.IssueGroups)))
	}

	lines := []string{
		st.bold.Render(name) + "  " + st.dim.Render(model.ChannelLabel(r.Channel.Code)),
		st.dim.Render("window  ") + r.Window.Label(),
		st.dim.Render("status  ") + status,
	}
	if r.Path != "" {
		lines = append(lines, st.dim.Render("saved   ")+r.Path)
	}
	return strings.Join(lines, "\n")
}

// Buckets returns the time-series bucket keys in chronological order.
func Buckets(ts model.TimeSeries) []string {
	keys := make([]string, 0, len(ts))
	for k := range ts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func chart(re *lipgloss.Renderer, st styles, s model.ExportSummary, width int) string {
	buckets := Buckets(s.TimeSeriesData)
	if len(buckets) == 0 {
		return st.dim.Render("No timestamped records")
	}

	chartWidth := max(width-legendWidth-2, 20)
	maxBars := chartWidth / 2
	if len(buckets) > maxBars {
		buckets = buckets[len(buckets)-maxBars:]
	}

	colors := make(map[string]lipgloss.Style, len(s.IssueGroups))
	ids := make([]string, 0, len(s.IssueGroups))
	for i, g := range s.IssueGroups {
		c := lipgloss.Color(seriesColors[i%len(seriesColors)])
		colors[g.ErrorID] = re.NewStyle().Foreground(c).Background(c)
		ids = append(ids, g.ErrorID)
	}

	bc := barchart.New(chartWidth, chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)
	peak := 0
	for _, b := range buckets {
		counts := s.TimeSeriesData[b]
		var values []barchart.BarValue
		total := 0
		for _, id := range ids {
			if n := counts[id]; n > 0 {
				values = append(values, barchart.BarValue{Name: id, Value: float64(n), Style: colors[id]})
				total += n
			}
		}
		if len(values) == 0 {
			values = append(values, barchart.BarValue{Name: "EMPTY", Value: 0, Style: st.dim})
		}
		peak = max(peak, total)
		bc.Push(barchart.BarData{Label: "", Values: values})
	}
	bc.Draw()

	var legend []string
	for i, id := range ids {
		if i == len(seriesColors) {
			legend = append(legend, st.dim.Render(fmt.Sprintf("+%d more", len(ids)-i)))
			break
		}
		legend = append(legend, colors[id].Render("  ")+" "+id)
	}
	legend = append(legend,
		st.dim.Render("─────"),
		fmt.Sprintf("peak %d/min", peak),
		st.dim.Render(buckets[0]),
		st.dim.Render(buckets[len(buckets)-1]),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top,
		bc.View(),
		re.NewStyle().PaddingLeft(2).Width(legendWidth).Render(strings.Join(legend, "\n")),
	)
}

func table(st styles, s model.ExportSummary) string {
	if len(s.IssueGroups) == 0 {
		return st.dim.Render("No issue groups")
	}
	rows := []string{st.bold.Render(fmt.Sprintf("%-8s %6s  %-40s %s", "ID", "COUNT", "SIGNATURE", "MESSAGE"))}
	for i, g := range s.IssueGroups {
		if i == maxTableRows {
			rows = append(rows, st.dim.Render(fmt.Sprintf("… %d more groups", len(s.IssueGroups)-i)))
			break
		}
		rows = append(rows, fmt.Sprintf("%-8s %6d  %-40s %s",
			g.ErrorID, g.TotalCount, truncate(g.Signature, 40), truncate(g.MessagePattern, maxMessage)))
	}
	return strings.Join(rows, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
