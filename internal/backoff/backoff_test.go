package backoff

import (
	"path/filepath"
	"testing"
	"time"
)

func TestComputeBackoffAfterThreshold(t *testing.T) {
	now := time.Now().UTC()
	st := state{Starts: []string{
		now.Add(-10 * time.Second).Format(time.RFC3339),
		now.Add(-20 * time.Second).Format(time.RFC3339),
		now.Add(-30 * time.Second).Format(time.RFC3339),
	}}

	wait := compute(now, &st)
	if wait != backoffStepSec*time.Second {
		t.Fatalf("expected one step of backoff, got %v", wait)
	}
}

func TestComputeBackoffResetsWhenWindowExpires(t *testing.T) {
	now := time.Now().UTC()
	st := state{Starts: []string{
		now.Add(-(windowSecs + 10) * time.Second).Format(time.RFC3339),
		now.Add(-(windowSecs + 20) * time.Second).Format(time.RFC3339),
	}}

	wait := compute(now, &st)
	if wait != 0 {
		t.Fatalf("expected no backoff once the window has expired, got %v", wait)
	}
	if len(st.Starts) != 1 {
		t.Fatalf("expected stale starts pruned and only this start retained, got %v", st.Starts)
	}
}

func TestComputeBackoffCapsAtMax(t *testing.T) {
	now := time.Now().UTC()
	var starts []string
	for i := 0; i < 20; i++ {
		starts = append(starts, now.Add(-time.Duration(i)*time.Second).Format(time.RFC3339))
	}
	st := state{Starts: starts}

	wait := compute(now, &st)
	if wait != backoffMaxSec*time.Second {
		t.Fatalf("expected backoff capped at max, got %v", wait)
	}
}

func TestApplyPersistsStateAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backoff.json")
	now := time.Now().UTC()

	for i := 0; i < maxStarts; i++ {
		if _, err := Apply(path, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	wait, err := Apply(path, now.Add(time.Duration(maxStarts)*time.Second))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if wait != backoffStepSec*time.Second {
		t.Fatalf("expected backoff to engage on the start exceeding the threshold, got %v", wait)
	}
}

func TestApplyMissingFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "backoff.json")

	wait, err := Apply(path, time.Now())
	if err != nil {
		t.Fatalf("Apply on missing file: %v", err)
	}
	if wait != 0 {
		t.Fatalf("expected no backoff on first-ever start, got %v", wait)
	}
}
