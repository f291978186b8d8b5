package main

import "testing"

func TestCollectorAggregatesObservabilityEvents(t *testing.T) {
	collector := newCollector(tasksEventName, tasksEventDomain)

	lines := []string{
		`task-api | {"event.name":"tasks.request.metrics","event.domain":"taskboard.api","severity_text":"INFO","severity_number":9,"attributes":{"http.status_code":200,"http.route":"/api/tasks","http.method":"GET","taskboard.tasks.total_ms":40.5,"taskboard.tasks.auth_ms":5.0,"taskboard.tasks.store_ms":10.2,"taskboard.tasks.tasks_returned":12},"level":"info","msg":"observability.event"}`,
		`non-json line`,
		`{"event.name":"tasks.request.metrics","event.domain":"taskboard.api","severity_text":"WARN","severity_number":13,"attributes":{"http.status_code":404,"http.route":"/api/tasks/:id","http.method":"PUT","taskboard.tasks.total_ms":60.0,"taskboard.tasks.error_stage":"store"},"level":"warning","msg":"observability.event"}`,
		`{"event.name":"other","event.domain":"taskboard.api","severity_text":"ERROR"}`,
	}
	for _, line := range lines {
		collector.ingest(line)
	}

	summary := collector.summary()
	if summary.TotalEvents != 2 {
		t.Fatalf("expected 2 events, got %d", summary.TotalEvents)
	}
	if summary.SkippedLines != 1 {
		t.Fatalf("expected 1 skipped line, got %d", summary.SkippedLines)
	}
	if summary.SeverityCounts["INFO"] != 1 || summary.WarnEvents != 1 || summary.ErrorEvents != 0 {
		t.Fatalf("unexpected severities: %#v", summary)
	}
	if summary.StatusCounts["200"] != 1 || summary.StatusCounts["404"] != 1 {
		t.Fatalf("unexpected status counts: %#v", summary.StatusCounts)
	}
	if summary.RouteCounts["GET /api/tasks"] != 1 || summary.RouteCounts["PUT /api/tasks/:id"] != 1 {
		t.Fatalf("unexpected route counts: %#v", summary.RouteCounts)
	}

	total, ok := summary.DurationMs["total"]
	if !ok || total.Count != 2 || total.Min != 40.5 || total.Max != 60 {
		t.Fatalf("unexpected total duration stats: %#v", total)
	}
	if store := summary.DurationMs["store"]; store.Count != 1 {
		t.Fatalf("expected one store duration, got %#v", store)
	}
	if summary.TasksReturned.Count != 1 || summary.TasksReturned.Max != 12 {
		t.Fatalf("unexpected tasks returned: %#v", summary.TasksReturned)
	}
	if summary.ErrorStages["store"] != 1 {
		t.Fatalf("expected store error stage, got %#v", summary.ErrorStages)
	}
	if summary.ShortString() == "" {
		t.Fatal("expected short summary to be non-empty")
	}
}
