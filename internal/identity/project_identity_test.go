package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPackageMarkerWinsOverRepoRoot(t *testing.T) {
	tmp := t.TempDir()
	repoRoot := filepath.Join(tmp, "repo")
	appDir := filepath.Join(repoRoot, "packages", "app")
	srcDir := filepath.Join(appDir, "src")

	mustMkdirAll(t, srcDir)
	mustMkdirAll(t, filepath.Join(repoRoot, ".git"))
	mustWriteFile(t, filepath.Join(appDir, "package.json"), "{}")
	mustWriteFile(t, filepath.Join(srcDir, "main.go"), "package main")

	boundary, ok := FindProjectBoundary(filepath.Join(srcDir, "main.go"))
	if !ok {
		t.Fatal("expected boundary")
	}
	wantPath := canonicalizePath(appDir)
	gotPath := canonicalizePath(boundary.Path)
	if gotPath != wantPath {
		t.Fatalf("path = %q, want %q", gotPath, wantPath)
	}
	if boundary.Marker != "package.json" {
		t.Fatalf("marker = %q, want package.json", boundary.Marker)
	}
}

func TestWorkspaceIDStableAcrossWorktrees(t *testing.T) {
	tmp := t.TempDir()
	repoRoot := filepath.Join(tmp, "assistant-ui")
	repoGit := filepath.Join(repoRoot, ".git")
	docsDir := filepath.Join(repoRoot, "apps", "docs")
	srcDir := filepath.Join(docsDir, "src")

	mustMkdirAll(t, srcDir)
	mustMkdirAll(t, repoGit)
	mustWriteFile(t, filepath.Join(docsDir, "package.json"), "{}")
	mustWriteFile(t, filepath.Join(srcDir, "index.ts"), "export {}")

	worktreeRoot := filepath.Join(tmp, "assistant-ui-wt")
	worktreeDocs := filepath.Join(worktreeRoot, "apps", "docs")
	mustMkdirAll(t, filepath.Join(worktreeDocs, "src"))
	mustWriteFile(t, filepath.Join(worktreeDocs, "package.json"), "{}")
	mustWriteFile(t, filepath.Join(worktreeDocs, "src", "index.ts"), "export {}")

	worktreeGitdir := filepath.Join(repoGit, "worktrees", "feat-docs")
	mustMkdirAll(t, worktreeGitdir)
	mustWriteFile(t, filepath.Join(worktreeGitdir, "commondir"), "../..")
	mustWriteFile(t, filepath.Join(worktreeRoot, ".git"), "gitdir: "+worktreeGitdir+"\n")

	repoIdentity, ok := Resolve(filepath.Join(srcDir, "index.ts"))
	if !ok {
		t.Fatal("expected repo identity")
	}
	worktreeIdentity, ok := Resolve(filepath.Join(worktreeDocs, "src", "index.ts"))
	if !ok {
		t.Fatal("expected worktree identity")
	}

	if repoIdentity.ProjectID != worktreeIdentity.ProjectID {
		t.Fatalf("project id mismatch: %q vs %q", repoIdentity.ProjectID, worktreeIdentity.ProjectID)
	}
	if repoIdentity.ProjectPath != worktreeIdentity.ProjectPath {
		t.Fatalf("project path mismatch: %q vs %q", repoIdentity.ProjectPath, worktreeIdentity.ProjectPath)
	}

	repoWorkspace := WorkspaceID(repoIdentity.ProjectID, repoIdentity.ProjectPath)
	worktreeWorkspace := WorkspaceID(worktreeIdentity.ProjectID, worktreeIdentity.ProjectPath)
	if repoWorkspace != worktreeWorkspace {
		t.Fatalf("workspace id mismatch: %q vs %q", repoWorkspace, worktreeWorkspace)
	}
}

func TestGitfileWithoutCommondirNotTreatedAsWorktree(t *testing.T) {
	tmp := t.TempDir()
	repoRoot := filepath.Join(tmp, "super-repo")
	repoGitdir := filepath.Join(repoRoot, ".git", "modules", "submodule")
	submoduleRoot := filepath.Join(repoRoot, "submodule")
	srcDir := filepath.Join(submoduleRoot, "src")

	mustMkdirAll(t, repoGitdir)
	mustMkdirAll(t, srcDir)
	mustWriteFile(t, filepath.Join(submoduleRoot, "package.json"), "{}")
	mustWriteFile(t, filepath.Join(srcDir, "index.ts"), "export {}")
	mustWriteFile(t, filepath.Join(submoduleRoot, ".git"), "gitdir: "+repoGitdir+"\n")

	identity, ok := Resolve(filepath.Join(srcDir, "index.ts"))
	if !ok {
		t.Fatal("expected identity")
	}

	want := canonicalizePath(submoduleRoot)
	if identity.ProjectPath != want {
		t.Fatalf("project path = %q, want %q", identity.ProjectPath, want)
	}
}

func TestIsDangerousPath(t *testing.T) {
	if _, ok := IsDangerousPath("/"); !ok {
		t.Fatal("expected / to be dangerous")
	}
	if _, ok := IsDangerousPath("/tmp/my-project"); ok {
		t.Fatal("did not expect /tmp/my-project to be dangerous")
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
