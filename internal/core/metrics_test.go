package core

import (
	"context"
	"testing"
	"time"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "create_task", true, 10*time.Millisecond)
	rec.Observe(ctx, "create_task", true, 5*time.Millisecond)
	rec.Observe(ctx, "create_task", false, 2*time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	snap := rec.Snapshot()
	if got := snap.Results["create_task"]["success"]; got != 2 {
		t.Fatalf("success count = %d, want 2", got)
	}
	if got := snap.Results["create_task"]["error"]; got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
	if got := snap.DurationsMS["create_task"]; got != 17 {
		t.Fatalf("durations = %v, want 17", got)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation must be ignored: %#v", snap.Results)
	}
}

func TestExpvarMetricsRecorderNames(t *testing.T) {
	first := NewExpvarMetricsRecorder("")
	second := NewExpvarMetricsRecorder("")
	if first.Name() == second.Name() {
		t.Fatalf("auto-generated names must be unique")
	}
	named := NewExpvarMetricsRecorder("boardcore_test_fixed_name")
	if named.Name() != "boardcore_test_fixed_name" {
		t.Fatalf("explicit name not kept: %s", named.Name())
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	rec := NewPrometheusMetricsRecorder()
	ctx := context.Background()

	rec.Observe(ctx, "list_tasks", true, 3*time.Millisecond)
	rec.Observe(ctx, "list_tasks", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond) // ignored

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]bool, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = true
	}
	if !byName["boardcore_service_operation_duration_seconds"] {
		t.Fatalf("duration histogram not registered: %v", byName)
	}
	if !byName["boardcore_service_operation_results_total"] {
		t.Fatalf("result counter not registered: %v", byName)
	}

	for _, mf := range families {
		if mf.GetName() != "boardcore_service_operation_results_total" {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		if total != 2 {
			t.Fatalf("result counter total = %v, want 2", total)
		}
	}
}
