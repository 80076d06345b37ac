// Package identity resolves a filesystem path to a stable project identity
// by walking up to the nearest project boundary marker, then stabilizing
// that boundary across git worktrees so the same logical project always
// yields the same ProjectIdentity regardless of which worktree a session
// happens to be running in.
package identity

import (
	"os"
	"path/filepath"
)

// MaxBoundaryDepth caps how far up the tree the walk will search, so a
// misconfigured or deeply nested path can't make resolution run away.
const MaxBoundaryDepth = 20

// IgnoredDirectories are skipped as potential boundaries; a marker found
// only inside one of these is discarded, not promoted to a project root.
var IgnoredDirectories = map[string]bool{
	"node_modules": true, "vendor": true, ".git": true, "__pycache__": true,
	"target": true, "dist": true, "build": true, ".next": true, ".output": true,
	"venv": true, ".venv": true, "env": true, ".turbo": true, ".cache": true,
}

// markerPriority lists project markers in priority order (lower wins).
// CLAUDE.md (1) is explicit intent and short-circuits the walk the moment
// it is seen. Package markers (2) beat a bare repository root (3), which
// beats build-tool markers (4).
var markerPriority = []struct {
	name     string
	priority int
}{
	{"CLAUDE.md", 1},
	{"package.json", 2}, {"Cargo.toml", 2}, {"pyproject.toml", 2},
	{"go.mod", 2}, {"pubspec.yaml", 2}, {"Project.toml", 2}, {"deno.json", 2},
	{".git", 3},
	{"Makefile", 4}, {"CMakeLists.txt", 4},
}

// DangerousPaths are too broad to ever be a meaningful project boundary.
var DangerousPaths = map[string]bool{
	"/": true, "/Users": true, "/home": true, "/var": true, "/tmp": true, "/opt": true,
}

// Boundary is the marker-identified root found by walking up from a path.
type Boundary struct {
	Path     string
	Marker   string
	Priority int
}

// FindProjectBoundary walks up from filePath looking for the nearest project
// marker, preferring higher-priority markers and resetting any accumulated
// boundary when it crosses into an ignored directory (vendor, node_modules,
// etc. — a marker inside one of those belongs to the ignored subtree, not
// to the caller's project).
func FindProjectBoundary(filePath string) (*Boundary, bool) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, false
	}

	start := filePath
	if !info.IsDir() {
		start = filepath.Dir(filePath)
	}

	home, _ := os.UserHomeDir()

	var best *Boundary
	dir := start
	for depth := 0; depth < MaxBoundaryDepth; depth++ {
		base := filepath.Base(dir)
		if IgnoredDirectories[base] {
			best = nil
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
			continue
		}

		for _, m := range markerPriority {
			if hasMarker(dir, m.name) {
				b := &Boundary{Path: dir, Marker: m.name, Priority: m.priority}
				if m.priority == 1 {
					return b, true
				}
				if best == nil || b.Priority < best.Priority {
					best = b
				}
				break
			}
		}

		if home != "" && dir == home {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if best == nil {
		return nil, false
	}
	return best, true
}

// IsIgnoredDirectory reports whether name is a directory boundary detection
// should skip over (generated or vendored trees, never project roots).
func IsIgnoredDirectory(name string) bool {
	return IgnoredDirectories[name]
}

// IsDangerousPath reports whether path is too broad to pin as a project
// boundary, along with a human-readable reason when it is.
func IsDangerousPath(path string) (string, bool) {
	trimmed := trimTrailingSlash(path)
	normalized := trimmed
	if normalized == "" {
		normalized = "/"
	}

	if DangerousPaths[normalized] {
		return "path '" + path + "' is too broad and would encompass many projects", true
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" && normalized == home {
		return "path '" + path + "' is home directory and too broad to pin", true
	}

	return "", false
}

func hasMarker(dir, marker string) bool {
	_, err := os.Stat(filepath.Join(dir, marker))
	return err == nil
}

func trimTrailingSlash(s string) string {
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
