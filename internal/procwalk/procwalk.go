// Package procwalk provides the two process-introspection primitives the
// daemon needs and neither the standard library nor a single third-party
// package covers alone: walking the ancestor chain of a PID to discover its
// hosting terminal application, and comparing a process's start time to
// detect PID reuse.
//
// Ancestor walking uses github.com/mitchellh/go-ps, which exposes PID/PPid
// but not process start time on every platform; start-time comparison
// therefore shells out to ps(1) for the lstart field, the same mechanism
// the daemon's own session-tracking code already relies on.
package procwalk

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// lstartLayout matches ps(1)'s `lstart=` output, e.g. "Wed Jul 30 10:00:00 2026".
const lstartLayout = "Mon Jan _2 15:04:05 2006"

// IdentityTolerance is the maximum drift between two lstart readings of the
// same process before they are considered different incarnations (spec §5:
// "boot-relative process start time within ±2 s tolerance").
const IdentityTolerance = 2 * time.Second

// IsAlive reports whether pid currently refers to a running process.
func IsAlive(pid int) bool {
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

// StartTime returns the process start time for pid as reported by ps(1)'s
// lstart field (a platform-local, non-parseable-across-hosts string — it
// is only ever compared to another lstart string for the same host, never
// parsed as a timestamp).
func StartTime(pid int) (string, error) {
	out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("reading process start time for pid %d: %w", pid, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IdentityMatches reports whether storedStart and currentStart refer to the
// same process incarnation: their parsed lstart values differ by at most
// IdentityTolerance. An empty currentStart (PID no longer running, or ps
// failed) never matches. If either value fails to parse, falls back to
// exact string comparison rather than guessing.
func IdentityMatches(storedStart, currentStart string) bool {
	if storedStart == "" || currentStart == "" {
		return false
	}
	storedTime, serr := time.Parse(lstartLayout, storedStart)
	currentTime, cerr := time.Parse(lstartLayout, currentStart)
	if serr != nil || cerr != nil {
		return storedStart == currentStart
	}
	diff := storedTime.Sub(currentTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= IdentityTolerance
}

// AncestorApps walks pid's ancestor chain (parent, grandparent, ...) up to
// maxDepth hops, returning each ancestor's executable name in walk order.
// Ancestor discovery stops silently on the first lookup failure — process
// trees are inherently racy, and this never needs to be an error the
// caller handles.
func AncestorApps(pid int, maxDepth int) []string {
	var apps []string
	current := pid
	for i := 0; i < maxDepth; i++ {
		proc, err := ps.FindProcess(current)
		if err != nil || proc == nil {
			break
		}
		ppid := proc.PPid()
		if ppid <= 1 {
			break
		}
		parent, err := ps.FindProcess(ppid)
		if err != nil || parent == nil {
			break
		}
		apps = append(apps, parent.Executable())
		current = ppid
	}
	return apps
}

// FindParentApp walks pid's ancestors looking for the first executable name
// present in knownApps (e.g. known terminal emulators), returning it, or
// ("", false) if none of the ancestors match within maxDepth hops.
func FindParentApp(pid int, maxDepth int, knownApps map[string]bool) (string, bool) {
	for _, app := range AncestorApps(pid, maxDepth) {
		if knownApps[app] {
			return app, true
		}
	}
	return "", false
}
