package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tinytelemetry/errlens/internal/model"
)

// Config holds tunable parameters for the aggregator.
type Config struct {
	WindowLabel string // reported as monitoring_window, default "Realtime"
	Now         func() time.Time
}

type group struct {
	key       model.GroupKey
	count     int
	nodes     map[string]struct{}
	firstSeen string
	lastSeen  string
	snapshot  []string
	pattern   string
	seen      bool
}

// Aggregator folds log records into issue groups and a per-minute time
// series. It is fed by a single producer and is not safe for concurrent use.
type Aggregator struct {
	windowLabel string
	now         func() time.Time

	groups map[model.GroupKey]*group
	order  []*group // discovery order, used as the ranking tie-break
	series map[string]map[model.GroupKey]int // minute bucket -> group -> count
}

// New creates an empty aggregator for one monitoring run.
func New(conf ...Config) *Aggregator {
	a := &Aggregator{
		windowLabel: model.DefaultWindowLabel,
		now:         time.Now,
		groups:      make(map[model.GroupKey]*group),
		series:      make(map[string]map[model.GroupKey]int),
	}
	if len(conf) > 0 {
		if conf[0].WindowLabel != "" {
			a.windowLabel = conf[0].WindowLabel
		}
		if conf[0].Now != nil {
			a.now = conf[0].Now
		}
	}
	return a
}

// Process merges one record into its group.
func (a *Aggregator) Process(record model.LogRecord) {
	r := record.Normalize()
	key := r.Key()

	g, ok := a.groups[key]
	if !ok {
		g = &group{key: key, nodes: make(map[string]struct{})}
		a.groups[key] = g
		a.order = append(a.order, g)
	}

	g.count++
	if r.Node != "" {
		g.nodes[r.Node] = struct{}{}
	}
	if !g.seen {
		g.firstSeen = r.Time
		g.pattern = r.Message
		g.seen = true
	}
	g.lastSeen = r.Time

	if len(g.snapshot) < model.MaxPeakSnapshot {
		g.snapshot = append(g.snapshot, fmt.Sprintf("[%s] [%s] %s.%s - %s (Msg: %s)",
			r.Time, r.App, r.Service, r.Operation, r.Code, r.Message))
	}

	if bucket, ok := BucketKey(r.Time); ok {
		counts := a.series[bucket]
		if counts == nil {
			counts = make(map[model.GroupKey]int)
			a.series[bucket] = counts
		}
		counts[key]++
	}
}

// BucketKey returns the "YYYY-MM-DD HH:MM" minute bucket of a timestamp.
// Surrounding brackets and spaces are trimmed and an ISO "T" separator is
// accepted. Timestamps shorter than a minute are rejected.
func BucketKey(ts string) (string, bool) {
	s := strings.Trim(ts, "[] \t")
	if len(s) < 16 {
		return "", false
	}
	s = s[:16]
	if s[10] == 'T' {
		s = s[:10] + " " + s[11:]
	}
	return s, true
}

// Total returns the number of records processed so far.
func (a *Aggregator) Total() int {
	total := 0
	for _, g := range a.order {
		total += g.count
	}
	return total
}

// Len returns the number of distinct issue groups.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Export ranks the groups by count and returns the chart-ready summary. Each
// series entry counts exactly one group, so groups sharing a code and message
// under different apps chart separately. Export does not modify accumulated
// state and may be called repeatedly.
func (a *Aggregator) Export() model.ExportSummary {
	ranked := make([]*group, len(a.order))
	copy(ranked, a.order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].count > ranked[j].count
	})

	issues := make([]model.RankedIssue, 0, len(ranked))
	ids := make(map[model.GroupKey]string, len(ranked))
	total := 0
	for i, g := range ranked {
		id := fmt.Sprintf("Error%02d", i+1)
		ids[g.key] = id
		total += g.count
		issues = append(issues, model.RankedIssue{ErrorID: id, IssueGroup: g.export()})
	}

	series := make(model.TimeSeries, len(a.series))
	for bucket, counts := range a.series {
		out := make(map[string]int, len(counts))
		for key, n := range counts {
			out[ids[key]] += n
		}
		series[bucket] = out
	}

	return model.ExportSummary{
		ReportMeta: model.ReportMeta{
			Date:               a.now().Format("2006-01-02"),
			TotalLogsProcessed: total,
			WindowLabel:        a.windowLabel,
		},
		IssueGroups:    issues,
		TimeSeriesData: series,
	}
}

func (g *group) export() model.IssueGroup {
	nodes := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	snapshot := make([]string, len(g.snapshot))
	copy(snapshot, g.snapshot)

	return model.IssueGroup{
		Key:            g.key,
		Signature:      g.key.Signature(),
		Channel:        g.key.Channel,
		Application:    g.key.App,
		Service:        g.key.Service,
		Operation:      g.key.Operation,
		ErrorCode:      g.key.Code,
		MessagePattern: g.pattern,
		TotalCount:     g.count,
		Nodes:          nodes,
		TimeContext: model.TimeContext{
			FirstSeen:    g.firstSeen,
			LastSeen:     g.lastSeen,
			PeakSnapshot: snapshot,
		},
	}
}
