package procwalk

import "testing"

func TestIdentityMatchesWithinTolerance(t *testing.T) {
	a := "Wed Jul 30 10:00:00 2026"
	b := "Wed Jul 30 10:00:01 2026"
	if !IdentityMatches(a, b) {
		t.Fatal("expected 1s drift to match")
	}
}

func TestIdentityMatchesRejectsBeyondTolerance(t *testing.T) {
	a := "Wed Jul 30 10:00:00 2026"
	b := "Wed Jul 30 10:00:05 2026"
	if IdentityMatches(a, b) {
		t.Fatal("expected 5s drift to not match")
	}
}

func TestIdentityMatchesEmptyNeverMatches(t *testing.T) {
	if IdentityMatches("", "Wed Jul 30 10:00:00 2026") {
		t.Fatal("expected empty stored start to never match")
	}
	if IdentityMatches("Wed Jul 30 10:00:00 2026", "") {
		t.Fatal("expected empty current start to never match")
	}
}

func TestIdentityMatchesUnparseableFallsBackToExact(t *testing.T) {
	if !IdentityMatches("garbage", "garbage") {
		t.Fatal("expected identical unparseable strings to match")
	}
	if IdentityMatches("garbage-a", "garbage-b") {
		t.Fatal("expected differing unparseable strings to not match")
	}
}
