package collab

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ExecGit is the default Git implementation, shelling out to the real
// `git` binary (git worktree add/remove/prune, git commit-tree, git
// rev-parse) rather than linking a Git library.
type ExecGit struct{}

// NewExecGit returns the default os/exec-backed Git collaborator.
func NewExecGit() *ExecGit { return &ExecGit{} }

func (g *ExecGit) CreateWorktree(ctx context.Context, root, branch, base string) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("collab: create worktree root %q: %w", root, err)
	}
	dirName := fmt.Sprintf("%s-%s", sanitize(branch), uuid.NewString()[:8])
	path := filepath.Join(root, dirName)

	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("collab: git worktree add failed: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return path, nil
}

func (g *ExecGit) RemoveWorktree(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	if err := cmd.Run(); err != nil {
		// Fall back to a plain directory removal when git itself can't
		// find the worktree entry.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("collab: remove worktree dir %q: %w", path, rmErr)
		}
	}
	_ = exec.CommandContext(ctx, "git", "worktree", "prune").Run()
	return nil
}

func (g *ExecGit) CaptureSnapshot(ctx context.Context, repoDir string) (string, error) {
	add := exec.CommandContext(ctx, "git", "-C", repoDir, "add", "-A")
	if out, err := add.CombinedOutput(); err != nil {
		return "", fmt.Errorf("collab: git add -A: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	tree := exec.CommandContext(ctx, "git", "-C", repoDir, "write-tree")
	treeOut, err := tree.Output()
	if err != nil {
		return "", fmt.Errorf("collab: git write-tree: %w", err)
	}
	treeID := strings.TrimSpace(string(treeOut))

	parent, _ := g.headCommit(ctx, repoDir)
	args := []string{"-C", repoDir, "commit-tree", treeID, "-m", "ghost snapshot"}
	if parent != "" {
		args = append(args, "-p", parent)
	}
	commit := exec.CommandContext(ctx, "git", args...)
	commitOut, err := commit.Output()
	if err != nil {
		return "", fmt.Errorf("collab: git commit-tree: %w", err)
	}
	return strings.TrimSpace(string(commitOut)), nil
}

func (g *ExecGit) headCommit(ctx context.Context, repoDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *ExecGit) RestoreSnapshot(ctx context.Context, repoDir, commitID string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "reset", "--hard", commitID)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("collab: git reset --hard %s: %w (%s)", commitID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (g *ExecGit) DiffNameOnly(ctx context.Context, repoDir, from, to string) ([]string, error) {
	args := []string{"-C", repoDir, "diff", "--name-only", from}
	if to != "" {
		args = append(args, to)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("collab: git diff --name-only: %w", err)
	}
	return splitNonEmptyLines(string(out)), nil
}

func (g *ExecGit) NumstatSummary(ctx context.Context, repoDir, from, to string) ([]string, error) {
	var args []string
	if to == "" {
		args = []string{"-C", repoDir, "diff", "--numstat", from}
	} else {
		args = []string{"-C", repoDir, "show", "--numstat", "--format=", to}
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("collab: git numstat: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 3 {
			continue
		}
		lines = append(lines, fmt.Sprintf("+%s -%s %s", fields[0], fields[1], fields[2]))
	}
	return lines, nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
	return strings.Trim(s, "-")
}
