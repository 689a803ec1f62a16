package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/akshat111/CHRONOS"
)

func TestEchoReturnsPayload(t *testing.T) {
	job := &chronos.Job{ID: "job_1"}
	got, err := Echo(context.Background(), json.RawMessage(`{"x":1}`), job)
	if err != nil {
		t.Fatalf("Echo(...) = _, %q, want <nil>", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Echo(...) = %T, want map[string]any", got)
	}
	if m["x"] != float64(1) {
		t.Errorf("x = %v, want 1", m["x"])
	}
}

func TestEchoEmptyPayload(t *testing.T) {
	got, err := Echo(context.Background(), nil, &chronos.Job{})
	if err != nil || got != nil {
		t.Fatalf("Echo(nil, ...) = %v, %v, want <nil>, <nil>", got, err)
	}
}

func TestDelaySleepsAndReturns(t *testing.T) {
	got, err := Delay(context.Background(), json.RawMessage(`{"delayMs":1}`), &chronos.Job{})
	if err != nil {
		t.Fatalf("Delay(...) = _, %q, want <nil>", err)
	}
	m := got.(map[string]any)
	if m["slept_ms"] != int64(1) {
		t.Errorf("slept_ms = %v, want 1", m["slept_ms"])
	}
}

func TestDelayRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Delay(ctx, json.RawMessage(`{"delayMs":60000}`), &chronos.Job{})
	if err == nil {
		t.Fatalf("Delay(canceled ctx, ...) = _, <nil>, want context.Canceled")
	}
}

func TestAlwaysFailIsRetryableUnknown(t *testing.T) {
	_, err := AlwaysFail(context.Background(), nil, &chronos.Job{})
	if err == nil {
		t.Fatal("AlwaysFail(...) = <nil>, want an error")
	}
	if !chronos.IsRetryable(err) {
		t.Errorf("IsRetryable(%q) = false, want true", err)
	}
	if got, want := chronos.ClassifyError(err), chronos.ErrUnknown; got != want {
		t.Errorf("ClassifyError(%q) = %s, want %s", err, got, want)
	}
}

func TestFailNTimesFailsThenSucceeds(t *testing.T) {
	h := FailNTimes(2)
	payload := json.RawMessage(`{"ok":true}`)

	for attempt := 0; attempt < 2; attempt++ {
		job := &chronos.Job{RetryCount: attempt}
		if _, err := h(context.Background(), payload, job); err == nil {
			t.Fatalf("attempt %d: h(...) = _, <nil>, want error", attempt)
		}
	}

	job := &chronos.Job{RetryCount: 2}
	got, err := h(context.Background(), payload, job)
	if err != nil {
		t.Fatalf("attempt 2: h(...) = _, %q, want <nil>", err)
	}
	if m, ok := got.(map[string]any); !ok || m["ok"] != true {
		t.Errorf("h(...) = %v, want echoed payload", got)
	}
}

func TestCountingHandlerCountsCalls(t *testing.T) {
	wrapped, count := CountingHandler(Echo)
	for i := 0; i < 3; i++ {
		if _, err := wrapped(context.Background(), nil, &chronos.Job{}); err != nil {
			t.Fatalf("wrapped(...) = _, %q, want <nil>", err)
		}
	}
	if got, want := count(), 3; got != want {
		t.Errorf("count() = %d, want %d", got, want)
	}
}
