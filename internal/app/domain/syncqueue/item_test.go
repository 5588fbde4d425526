package syncqueue

import (
	"testing"
	"time"
)

func TestErrorKindRetryable(t *testing.T) {
	if !ErrorNetwork.Retryable() {
		t.Fatalf("network errors should be retryable")
	}
	if !ErrorServer.Retryable() {
		t.Fatalf("server errors should be retryable")
	}
	if ErrorValidation.Retryable() {
		t.Fatalf("validation errors should not be retryable")
	}
	if ErrorNone.Retryable() {
		t.Fatalf("absence of an error should not be retryable")
	}
}

func TestLess_PriorityFirst(t *testing.T) {
	now := time.Now()
	low := Item{UUID: "a", Priority: 0, Timestamp: now}
	high := Item{UUID: "b", Priority: 5, Timestamp: now.Add(time.Hour)}

	if !Less(high, low) {
		t.Fatalf("higher priority should drain first regardless of age")
	}
	if Less(low, high) {
		t.Fatalf("ordering should not be symmetric")
	}
}

func TestLess_TimestampThenUUID(t *testing.T) {
	now := time.Now()
	older := Item{UUID: "z", Timestamp: now}
	newer := Item{UUID: "a", Timestamp: now.Add(time.Second)}

	if !Less(older, newer) {
		t.Fatalf("older item should drain first at equal priority")
	}

	first := Item{UUID: "a", Timestamp: now}
	second := Item{UUID: "b", Timestamp: now}
	if !Less(first, second) {
		t.Fatalf("uuid should break exact timestamp ties")
	}
}

func TestUpdateApply(t *testing.T) {
	item := Item{UUID: "x", Attempts: 1, Error: "timeout", ErrorKind: ErrorNetwork}

	attempts := 2
	kind := ErrorServer
	failed := true
	next := time.Now().Add(time.Minute)
	Update{
		Attempts:  &attempts,
		ErrorKind: &kind,
		Failed:    &failed,
		NextRetry: &next,
	}.Apply(&item)

	if item.Attempts != 2 || item.ErrorKind != ErrorServer || !item.Failed {
		t.Fatalf("update not applied: %#v", item)
	}
	if item.Error != "timeout" {
		t.Fatalf("nil field should leave error untouched, got %q", item.Error)
	}
	if !item.NextRetry.Equal(next) {
		t.Fatalf("next retry not applied")
	}
}
