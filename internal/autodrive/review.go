package autodrive

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencoder/agentshell/internal/collab"
	"github.com/opencoder/agentshell/internal/tracing"
)

var tracer = tracing.Tracer("agentshell/autodrive")

// ReviewOutputEvent is the parsed result of a completed review agent.
type ReviewOutputEvent struct {
	AgentID       string
	FindingsCount int
	Findings      []string
}

// ReviewLauncher spawns the dedicated AutoReview agent on a worktree
// cloned from baseCommit.
type ReviewLauncher interface {
	LaunchReviewAgent(ctx context.Context, baseCommit string) (agentID string, err error)
}

// DeveloperNotice delivers the "[developer] Merge the worktree ..." note
// either visibly (busy session) or as a hidden message (idle session).
type DeveloperNotice interface {
	InjectDeveloperNote(ctx context.Context, text string, hidden bool) error
}

// ReviewCoordinator runs the post-turn review cycle: capture a
// baseline, diff against it, launch (or queue) a background review
// agent, and react to its outcome.
type ReviewCoordinator struct {
	git                collab.Git
	repoDir            string
	launch             ReviewLauncher
	notices            NoticePublisher
	dev                DeveloperNotice
	resolve            *AutoResolve
	autoResolveEnabled bool

	mu          sync.Mutex
	running     bool
	runningBase string
	queued      *reviewRequest // earliest unreviewed request, coalesced
}

type reviewRequest struct {
	baseline string
	turn     string
}

// NewReviewCoordinator binds a ReviewCoordinator to its collaborators.
// resolve may be nil when auto-resolve is disabled.
func NewReviewCoordinator(git collab.Git, repoDir string, launch ReviewLauncher, notices NoticePublisher, dev DeveloperNotice, resolve *AutoResolve, autoResolveEnabled bool) *ReviewCoordinator {
	return &ReviewCoordinator{git: git, repoDir: repoDir, launch: launch, notices: notices, dev: dev, resolve: resolve, autoResolveEnabled: autoResolveEnabled}
}

// RequestReview starts a review pass: if the diff between
// baselineCommit and turnCommit is empty, skip with a notice; otherwise
// launch a review agent, or if one is already running against a
// different base, coalesce the request into the earliest unreviewed one.
func (rc *ReviewCoordinator) RequestReview(ctx context.Context, baselineCommit, turnCommit string) error {
	ctx, span := tracer.Start(ctx, "autodrive.RequestReview")
	defer span.End()

	diff, err := rc.git.DiffNameOnly(ctx, rc.repoDir, baselineCommit, turnCommit)
	if err != nil {
		return fmt.Errorf("autodrive: review diff: %w", err)
	}
	if len(diff) == 0 {
		if rc.notices != nil {
			rc.notices.PublishNotice("Auto review skipped: no file changes detected this turn.")
		}
		return nil
	}

	rc.mu.Lock()
	if rc.running {
		if rc.queued == nil {
			rc.queued = &reviewRequest{baseline: baselineCommit, turn: turnCommit}
		}
		rc.mu.Unlock()
		return nil
	}
	rc.running = true
	rc.runningBase = baselineCommit
	rc.mu.Unlock()

	_, err = rc.launch.LaunchReviewAgent(ctx, baselineCommit)
	if err != nil {
		rc.mu.Lock()
		rc.running = false
		rc.mu.Unlock()
		return fmt.Errorf("autodrive: launch review agent: %w", err)
	}
	return nil
}

// OnReviewComplete consumes a finished review: no findings resumes the
// turn; findings inject a developer note (visibly if busy, hidden if
// idle) and, if auto-resolve is enabled, hand the outcome to the
// AutoResolve machine. busy reports whether the session currently has an
// active turn the user is watching.
func (rc *ReviewCoordinator) OnReviewComplete(ctx context.Context, result ReviewOutputEvent, busy bool) error {
	rc.mu.Lock()
	queued := rc.queued
	rc.running = false
	rc.queued = nil
	rc.mu.Unlock()

	if result.FindingsCount > 0 {
		note := fmt.Sprintf("[developer] Merge the worktree from review %s: %d finding(s) to address.", result.AgentID, result.FindingsCount)
		if rc.dev != nil {
			if err := rc.dev.InjectDeveloperNote(ctx, note, !busy); err != nil {
				return fmt.Errorf("autodrive: inject developer note: %w", err)
			}
		}
		if rc.autoResolveEnabled && rc.resolve != nil {
			rc.resolve.HandleReviewExit(result.AgentID, result.FindingsCount)
		}
	} else if rc.autoResolveEnabled && rc.resolve != nil {
		rc.resolve.HandleReviewExit(result.AgentID, 0)
	}

	if queued != nil {
		return rc.RequestReview(ctx, queued.baseline, queued.turn)
	}
	return nil
}
