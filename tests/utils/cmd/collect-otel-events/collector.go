package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	tasksEventName   = "tasks.request.metrics"
	tasksEventDomain = "taskboard.api"

	attrHTTPStatusCode = "http.status_code"
	attrHTTPRoute      = "http.route"
	attrHTTPMethod     = "http.method"
	attrTotalMillis    = "taskboard.tasks.total_ms"
	attrAuthMillis     = "taskboard.tasks.auth_ms"
	attrStoreMillis    = "taskboard.tasks.store_ms"
	attrTasksReturned  = "taskboard.tasks.tasks_returned"
	attrErrorStage     = "taskboard.tasks.error_stage"
)

// logRecord is one JSON formatted observability entry written by task-api.
type logRecord struct {
	EventName      string         `json:"event.name"`
	EventDomain    string         `json:"event.domain"`
	SeverityText   string         `json:"severity_text"`
	SeverityNumber int            `json:"severity_number"`
	Attributes     map[string]any `json:"attributes"`
}

type collector struct {
	eventName   string
	eventDomain string
	stats       metricsSummary
	skipped     int
}

type metricsSummary struct {
	Count          int
	SeverityCounts map[string]int
	StatusCounts   map[int]int
	RouteCounts    map[string]int
	Durations      map[string]*numericStats
	Tasks          *numericStats
	ErrorStages    map[string]int
	ErrorEvents    int
	WarnEvents     int
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

type durationSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
}

type numericSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type summaryOutput struct {
	EventName      string                     `json:"event_name"`
	EventDomain    string                     `json:"event_domain"`
	TotalEvents    int                        `json:"total_events"`
	SeverityCounts map[string]int             `json:"severity_counts"`
	StatusCounts   map[string]int             `json:"status_counts"`
	RouteCounts    map[string]int             `json:"route_counts"`
	DurationMs     map[string]durationSummary `json:"duration_ms"`
	TasksReturned  numericSummary             `json:"tasks_returned"`
	ErrorStages    map[string]int             `json:"error_stages,omitempty"`
	ErrorEvents    int                        `json:"error_events"`
	WarnEvents     int                        `json:"warn_events"`
	SkippedLines   int                        `json:"skipped_lines"`
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		stats: metricsSummary{
			SeverityCounts: make(map[string]int),
			StatusCounts:   make(map[int]int),
			RouteCounts:    make(map[string]int),
			Durations:      make(map[string]*numericStats),
			ErrorStages:    make(map[string]int),
		},
	}
}

// ingest accepts a raw log line, optionally prefixed by a docker compose
// "service |" tag.
func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}

	rec, err := decodeRecord(trimmed)
	if err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName {
		return
	}
	if c.eventDomain != "" && rec.EventDomain != c.eventDomain {
		return
	}
	c.addRecord(rec)
}

func decodeRecord(raw string) (logRecord, error) {
	var rec logRecord
	dec := sonic.ConfigStd.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return logRecord{}, err
	}
	return rec, nil
}

func (c *collector) addRecord(rec logRecord) {
	c.stats.Count++

	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.stats.SeverityCounts[severity]++
	switch severity {
	case "ERROR":
		c.stats.ErrorEvents++
	case "WARN", "WARNING":
		c.stats.WarnEvents++
	}

	attrs := rec.Attributes
	if attrs == nil {
		return
	}
	if status, ok := asInt(attrs[attrHTTPStatusCode]); ok {
		c.stats.StatusCounts[status]++
	}
	if route, ok := asString(attrs[attrHTTPRoute]); ok && route != "" {
		if method, ok := asString(attrs[attrHTTPMethod]); ok && method != "" {
			route = method + " " + route
		}
		c.stats.RouteCounts[route]++
	}
	for key, attr := range map[string]string{
		"total": attrTotalMillis,
		"auth":  attrAuthMillis,
		"store": attrStoreMillis,
	} {
		if v, ok := asFloat(attrs[attr]); ok {
			c.stats.addDuration(key, v)
		}
	}
	if v, ok := asFloat(attrs[attrTasksReturned]); ok {
		if c.stats.Tasks == nil {
			c.stats.Tasks = newNumericStats()
		}
		c.stats.Tasks.add(v)
	}
	if stage, ok := asString(attrs[attrErrorStage]); ok && stage != "" {
		c.stats.ErrorStages[stage]++
	}
}

func (s *metricsSummary) addDuration(key string, value float64) {
	stat, ok := s.Durations[key]
	if !ok {
		stat = newNumericStats()
		s.Durations[key] = stat
	}
	stat.add(value)
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(value float64) {
	n.Count++
	n.Sum += value
	n.Min = min(n.Min, value)
	n.Max = max(n.Max, value)
}

func (n *numericStats) toNumericSummary() numericSummary {
	if n == nil || n.Count == 0 {
		return numericSummary{}
	}
	return numericSummary{Count: n.Count, Min: n.Min, Max: n.Max, Avg: n.Sum / float64(n.Count)}
}

func (c *collector) summary() summaryOutput {
	durations := make(map[string]durationSummary, len(c.stats.Durations))
	for key, stat := range c.stats.Durations {
		s := stat.toNumericSummary()
		durations[key] = durationSummary{Count: s.Count, Min: s.Min, Max: s.Max, Avg: s.Avg}
	}

	statusCounts := make(map[string]int, len(c.stats.StatusCounts))
	for status, count := range c.stats.StatusCounts {
		statusCounts[strconv.Itoa(status)] = count
	}

	return summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.stats.Count,
		SeverityCounts: copyCounts(c.stats.SeverityCounts),
		StatusCounts:   statusCounts,
		RouteCounts:    copyCounts(c.stats.RouteCounts),
		DurationMs:     durations,
		TasksReturned:  c.stats.Tasks.toNumericSummary(),
		ErrorStages:    compactCounts(c.stats.ErrorStages),
		ErrorEvents:    c.stats.ErrorEvents,
		WarnEvents:     c.stats.WarnEvents,
		SkippedLines:   c.skipped,
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func compactCounts(in map[string]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	return copyCounts(in)
}

func (s summaryOutput) ShortString() string {
	var avg, worst float64
	if total, ok := s.DurationMs["total"]; ok {
		avg, worst = total.Avg, total.Max
	}
	return strings.Join([]string{
		"event=" + s.EventName,
		"domain=" + s.EventDomain,
		"total=" + strconv.Itoa(s.TotalEvents),
		"info=" + strconv.Itoa(s.SeverityCounts["INFO"]),
		"warn=" + strconv.Itoa(s.WarnEvents),
		"error=" + strconv.Itoa(s.ErrorEvents),
		"avg_total_ms=" + formatFloat(avg),
		"max_total_ms=" + formatFloat(worst),
	}, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		i, err := v.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(v)
		return i, err == nil
	}
	return 0, false
}

func asString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	}
	return "", false
}
