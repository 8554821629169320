package autodrive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeReviewGit struct {
	diffs map[string][]string
}

func (f *fakeReviewGit) CreateWorktree(ctx context.Context, root, branch, base string) (string, error) {
	return "", nil
}
func (f *fakeReviewGit) RemoveWorktree(ctx context.Context, path string) error { return nil }
func (f *fakeReviewGit) CaptureSnapshot(ctx context.Context, repoDir string) (string, error) {
	return "", nil
}
func (f *fakeReviewGit) RestoreSnapshot(ctx context.Context, repoDir, commitID string) error {
	return nil
}
func (f *fakeReviewGit) DiffNameOnly(ctx context.Context, repoDir, from, to string) ([]string, error) {
	return f.diffs[from+".."+to], nil
}
func (f *fakeReviewGit) NumstatSummary(ctx context.Context, repoDir, from, to string) ([]string, error) {
	return nil, nil
}

type fakeLauncher struct {
	launched []string
}

func (f *fakeLauncher) LaunchReviewAgent(ctx context.Context, baseCommit string) (string, error) {
	f.launched = append(f.launched, baseCommit)
	return "review-agent-1", nil
}

func TestRequestReviewSkipsWhenDiffEmpty(t *testing.T) {
	git := &fakeReviewGit{diffs: map[string][]string{"a..b": nil}}
	launcher := &fakeLauncher{}
	var notices []string
	rc := NewReviewCoordinator(git, "/repo", launcher, noticeFunc(func(s string) { notices = append(notices, s) }), nil, nil, false)

	err := rc.RequestReview(context.Background(), "a", "b")
	require.NoError(t, err)
	require.Empty(t, launcher.launched)
	require.Contains(t, notices[0], "no file changes")
}

func TestRequestReviewLaunchesWhenDiffNonEmpty(t *testing.T) {
	git := &fakeReviewGit{diffs: map[string][]string{"a..b": {"main.go"}}}
	launcher := &fakeLauncher{}
	rc := NewReviewCoordinator(git, "/repo", launcher, nil, nil, nil, false)

	err := rc.RequestReview(context.Background(), "a", "b")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, launcher.launched)
}

func TestOnReviewCompleteDrivesAutoResolveWhenFindingsPresent(t *testing.T) {
	git := &fakeReviewGit{diffs: map[string][]string{"a..b": {"main.go"}}}
	launcher := &fakeLauncher{}
	resolve := NewAutoResolve(3, nil)
	rc := NewReviewCoordinator(git, "/repo", launcher, nil, nil, resolve, true)

	require.NoError(t, rc.RequestReview(context.Background(), "a", "b"))
	err := rc.OnReviewComplete(context.Background(), ReviewOutputEvent{AgentID: "review-agent-1", FindingsCount: 2}, false)
	require.NoError(t, err)
	require.Equal(t, ResolvePendingFix, resolve.State().Phase)
}
