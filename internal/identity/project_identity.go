package identity

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/cases"
)

// caseFolder performs Unicode-aware case folding for workspace IDs on
// case-insensitive filesystems (APFS, NTFS), where strings.ToLower's
// ASCII-only folding can diverge from the filesystem's own notion of
// "same path" for non-ASCII project directory names.
var caseFolder = cases.Fold()

// ProjectIdentity is the stable (project_path, project_id) pair a path
// resolves to. project_id is what distinguishes logically-the-same project
// across its worktrees: it is the repository's common .git directory, not
// any one worktree's path.
type ProjectIdentity struct {
	ProjectPath string
	ProjectID   string
}

type gitInfo struct {
	worktreeRoot string
	repoRoot     string
	commonDir    string
	isWorktree   bool
}

// Resolve finds the nearest project boundary for path and stabilizes it
// against git worktree indirection, returning (nil, false) when no boundary
// exists within the walk limits.
func Resolve(path string) (*ProjectIdentity, bool) {
	boundary, ok := FindProjectBoundary(path)
	if !ok {
		return nil, false
	}

	info := resolveGitInfo(boundary.Path)

	canonicalBoundary := boundary.Path
	if info != nil {
		canonicalBoundary = canonicalizeWorktreePath(boundary.Path, info)
	} else {
		canonicalBoundary = canonicalizePath(boundary.Path)
	}

	projectIDPath := canonicalBoundary
	if info != nil {
		projectIDPath = info.commonDir
	}

	return &ProjectIdentity{
		ProjectPath: canonicalBoundary,
		ProjectID:   projectIDPath,
	}, true
}

// WorkspaceID derives a stable hash identifying a workspace (a project plus
// a specific sub-path within it, e.g. a monorepo package) from the
// (project_id, project_path) pair Resolve returned. It is stable across
// worktrees because project_id is always the shared common .git dir.
func WorkspaceID(projectID, projectPath string) string {
	id := canonicalizePath(projectID)
	p := canonicalizePath(projectPath)
	relative := workspaceRelativePath(id, p)
	source := id + "|" + relative
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		source = caseFolder.String(source)
	}
	sum := md5.Sum([]byte(source))
	return fmt.Sprintf("%x", sum)
}

func workspaceRelativePath(projectID, projectPath string) string {
	if repoRoot, ok := repoRootFromProjectID(projectID); ok {
		if rel, err := filepath.Rel(repoRoot, projectPath); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return projectPath
}

func repoRootFromProjectID(projectID string) (string, bool) {
	if filepath.Base(projectID) == ".git" {
		return filepath.Dir(projectID), true
	}
	return "", false
}

// resolveGitInfo walks up from path looking for a .git entry (directory for
// a normal clone, file for a worktree or submodule) and classifies it.
func resolveGitInfo(path string) *gitInfo {
	start := path
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		start = filepath.Dir(path)
	}

	dir := start
	for {
		gitEntry := filepath.Join(dir, ".git")
		fi, err := os.Stat(gitEntry)
		if err == nil {
			if fi.IsDir() {
				repoRoot := canonicalizePath(dir)
				commonDir := canonicalizePath(gitEntry)
				return &gitInfo{worktreeRoot: repoRoot, repoRoot: repoRoot, commonDir: commonDir, isWorktree: false}
			}

			gitDir, ok := parseGitdir(gitEntry, dir)
			if !ok {
				return nil
			}
			if commonDir, ok := parseCommondir(gitDir); ok {
				repoRoot := filepath.Dir(commonDir)
				return &gitInfo{
					worktreeRoot: canonicalizePath(dir),
					repoRoot:     canonicalizePath(repoRoot),
					commonDir:    canonicalizePath(commonDir),
					isWorktree:   true,
				}
			}

			// .git file without a resolvable commondir: treat as a plain
			// (non-worktree) repo pointer, e.g. a submodule — by design,
			// not promoted to worktree stabilization.
			return &gitInfo{
				worktreeRoot: canonicalizePath(dir),
				repoRoot:     canonicalizePath(dir),
				commonDir:    canonicalizePath(gitDir),
				isWorktree:   false,
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func parseGitdir(gitFile, worktreeRoot string) (string, bool) {
	data, err := os.ReadFile(gitFile)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.ToLower(line), "gitdir:") {
			raw := strings.TrimSpace(line[len("gitdir:"):])
			if raw == "" {
				return "", false
			}
			return resolveGitPath(worktreeRoot, raw), true
		}
	}
	return "", false
}

func parseCommondir(gitDir string) (string, bool) {
	commondirPath := filepath.Join(gitDir, "commondir")
	data, err := os.ReadFile(commondirPath)
	if err != nil {
		return "", false
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", false
	}
	return resolveGitPath(gitDir, raw), true
}

func resolveGitPath(base, raw string) string {
	if filepath.IsAbs(raw) {
		return canonicalizePath(raw)
	}
	return canonicalizePath(filepath.Join(base, raw))
}

func canonicalizeWorktreePath(path string, info *gitInfo) string {
	if !info.isWorktree {
		return canonicalizePath(path)
	}

	normalized := canonicalizePath(path)
	if rel, err := filepath.Rel(info.worktreeRoot, normalized); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.Join(info.repoRoot, rel)
	}
	return normalized
}

func canonicalizePath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		if abs, err := filepath.Abs(resolved); err == nil {
			return abs
		}
		return resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
