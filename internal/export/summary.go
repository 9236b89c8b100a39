package export

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"proxyrank/internal/endpoint"
	"proxyrank/internal/rank"
)

// Summary describes one ranking run.
type Summary struct {
	Collected    int
	Alive        int
	Best         int
	AvgLatencyMs float64
	Kinds        []KindCount
	Ports        []rank.PortCount
}

// KindCount is the number of selected endpoints of one kind.
type KindCount struct {
	Kind  endpoint.Kind
	Count int
}

// Summarize computes run statistics from every tested endpoint and the
// final selection.
func Summarize(all, best []endpoint.Endpoint) Summary {
	s := Summary{Collected: len(all), Best: len(best)}
	for _, ep := range all {
		if ep.Alive {
			s.Alive++
		}
	}
	var sum float64
	for _, ep := range best {
		sum += ep.LatencyMillis
	}
	if len(best) > 0 {
		s.AvgLatencyMs = sum / float64(len(best))
	}
	for _, g := range GroupByKind(best) {
		s.Kinds = append(s.Kinds, KindCount{Kind: g.Kind, Count: len(g.Endpoints)})
	}
	s.Ports = rank.PortDistribution(best)
	return s
}

var markdown = template.Must(template.New("summary").Parse(`# Endpoint Ranking

> Last Updated: **{{.Updated}}**

## Stats

| Metric | Value |
|--------|-------|
| Total Collected | {{.Collected}} |
| Alive | {{.Alive}} |
| Best Selected | {{.Best}} |
| Avg Latency | {{printf "%.0f" .AvgLatencyMs}} ms |

## Protocols

| Protocol | Count |
|----------|-------|
{{range .Kinds}}| {{.Kind}} | {{.Count}} |
{{end}}
## Ports

| Port | Count |
|------|-------|
{{range .Ports}}| {{.Port}} | {{.Count}} |
{{end}}`))

// WriteMarkdown renders s as a Markdown report.
func WriteMarkdown(w io.Writer, s Summary, now time.Time) error {
	data := struct {
		Summary
		Updated string
	}{s, now.UTC().Format(TimeLayout)}
	if err := markdown.Execute(w, data); err != nil {
		return fmt.Errorf("[Export] write markdown: %w", err)
	}
	return nil
}
