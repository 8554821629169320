// Package undo implements the Snapshot / Undo Service: ghost-commit
// capture and restore for the `/undo` UI, backed by the Git
// collaborator's capture/restore/diff contract and the History State
// Store's own snapshot/restore.
package undo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opencoder/agentshell/internal/collab"
	"github.com/opencoder/agentshell/internal/history"
	"github.com/opencoder/agentshell/internal/logging"
	"github.com/opencoder/agentshell/internal/tracing"
)

var tracer = tracing.Tracer("agentshell/undo")

// ErrCaptureDisabled is returned once snapshot capture has hit its hard
// timeout and further captures are refused for the rest of the process.
var ErrCaptureDisabled = errors.New("undo: snapshot capture disabled")

const (
	stillRunningNotice = 5 * time.Second
	hardCaptureTimeout = 30 * time.Second
	maxPreviewMessages = 12
	maxPreviewChars    = 280
)

// NoticePublisher surfaces the "still capturing" and sticky disabled
// notices to the user-facing history.
type NoticePublisher interface {
	PublishNotice(text string)
}

// GhostSnapshot is one entry in the undo timeline.
type GhostSnapshot struct {
	CommitID   string
	Parent     string // empty if this is the first snapshot
	CapturedAt time.Time
	Summary    string
	History    history.Snapshot
}

// RestoreMode selects which half of a GhostSnapshot to restore.
type RestoreMode int

const (
	RestoreFilesOnly RestoreMode = iota
	RestoreConversationOnly
	RestoreBoth
)

// RestoreResult tells the caller (the Turn Runtime, which alone may touch
// the History Store) what it still needs to apply.
type RestoreResult struct {
	FilesRestored        bool
	ConversationSnapshot *history.Snapshot
	RestoredCommitID     string
}

// Entry is one rendered row of the `/undo` list: newest-first snapshots
// plus a synthetic "current" entry at the bottom.
type Entry struct {
	IsCurrent  bool
	CommitID   string
	CapturedAt time.Time
	Summary    string
	Preview    []string // last <=12 conversation messages, each <=280 chars
	Numstat    []string // "+added -removed path" lines
}

// Service owns the ordered ghost-snapshot list for one session. Capture
// is single-writer: a capture in flight blocks the next one.
type Service struct {
	mu sync.Mutex

	git     collab.Git
	repoDir string
	store   *history.Store
	notices NoticePublisher
	log     *logging.Logger

	snapshots      []GhostSnapshot
	disabledReason string

	// inflight coalesces overlapping capture requests onto one git
	// invocation.
	inflight singleflight.Group
}

// NewService binds a Service to repoDir's working tree and the session's
// History Store.
func NewService(git collab.Git, repoDir string, store *history.Store, notices NoticePublisher, log *logging.Logger) *Service {
	return &Service{git: git, repoDir: repoDir, store: store, notices: notices, log: log}
}

// DisabledReason reports the sticky reason further captures are refused,
// if any.
func (s *Service) DisabledReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabledReason
}

type captureOutcome struct {
	commitID string
	err      error
}

// Capture performs an asynchronous ghost-commit capture with a 5-second
// "still running" notice and a hard 30-second timeout, after which the
// capture is aborted and dropped with a sticky disabled reason.
func (s *Service) Capture(ctx context.Context, summary string) (GhostSnapshot, error) {
	ctx, span := tracer.Start(ctx, "undo.Capture")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabledReason != "" {
		return GhostSnapshot{}, fmt.Errorf("%w: %s", ErrCaptureDisabled, s.disabledReason)
	}

	captureCtx, cancel := context.WithTimeout(ctx, hardCaptureTimeout)
	defer cancel()

	done := make(chan captureOutcome, 1)
	go func() {
		v, err, _ := s.inflight.Do("ghost-capture", func() (any, error) {
			return s.git.CaptureSnapshot(captureCtx, s.repoDir)
		})
		id, _ := v.(string)
		done <- captureOutcome{commitID: id, err: err}
	}()

	notice := time.NewTimer(stillRunningNotice)
	defer notice.Stop()

	for {
		select {
		case out := <-done:
			if out.err != nil {
				return GhostSnapshot{}, fmt.Errorf("undo: capture failed: %w", out.err)
			}
			snap := GhostSnapshot{
				CommitID:   out.commitID,
				Parent:     s.lastCommitIDLocked(),
				CapturedAt: time.Now(),
				Summary:    summary,
				History:    s.store.Snapshot(),
			}
			s.snapshots = append(s.snapshots, snap)
			return snap, nil
		case <-notice.C:
			if s.notices != nil {
				s.notices.PublishNotice("Still capturing a snapshot for /undo…")
			}
		case <-captureCtx.Done():
			s.disabledReason = "snapshot capture exceeded 30s and was aborted"
			if s.notices != nil {
				s.notices.PublishNotice("/undo disabled: " + s.disabledReason)
			}
			if s.log != nil {
				s.log.Warn(s.disabledReason)
			}
			return GhostSnapshot{}, fmt.Errorf("undo: %s", s.disabledReason)
		}
	}
}

func (s *Service) lastCommitIDLocked() string {
	if len(s.snapshots) == 0 {
		return ""
	}
	return s.snapshots[len(s.snapshots)-1].CommitID
}

// Entries renders the `/undo` list: newest-first snapshots, then a
// "current" entry computed against HEAD.
func (s *Service) Entries(ctx context.Context) []Entry {
	s.mu.Lock()
	snapshots := append([]GhostSnapshot(nil), s.snapshots...)
	s.mu.Unlock()

	out := make([]Entry, 0, len(snapshots)+1)
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		numstat, _ := s.git.NumstatSummary(ctx, s.repoDir, "", snap.CommitID)
		out = append(out, Entry{
			CommitID:   snap.CommitID,
			CapturedAt: snap.CapturedAt,
			Summary:    snap.Summary,
			Preview:    previewMessages(snap.History),
			Numstat:    numstat,
		})
	}

	numstat, _ := s.git.NumstatSummary(ctx, s.repoDir, "HEAD", "")
	out = append(out, Entry{
		IsCurrent: true,
		CapturedAt: time.Now(),
		Preview:    previewMessages(s.store.Snapshot()),
		Numstat:    numstat,
	})
	return out
}

// previewMessages extracts the last <=12 conversation-ish records,
// truncated to <=280 display characters each.
func previewMessages(snap history.Snapshot) []string {
	var lines []string
	for _, id := range snap.Order {
		rec, ok := snap.Records[id]
		if !ok {
			continue
		}
		var text string
		switch r := rec.(type) {
		case history.PlainMessage:
			text = strings.Join(r.Lines, " ")
		case history.AssistantMessage:
			text = r.Markdown
		default:
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, truncateDisplay(text, maxPreviewChars))
	}
	if len(lines) > maxPreviewMessages {
		lines = lines[len(lines)-maxPreviewMessages:]
	}
	return lines
}

func truncateDisplay(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// Restore implements the `/undo` restore contract: for RestoreFilesOnly
// and RestoreBoth it drives the Git collaborator's snapshot restore
// directly (this service owns no other session state); for
// RestoreConversationOnly and RestoreBoth it hands back the target
// history.Snapshot for the Turn Runtime to apply via Store.Restore,
// since only the Runtime may mutate the History Store.
func (s *Service) Restore(ctx context.Context, index int, mode RestoreMode) (RestoreResult, error) {
	s.mu.Lock()
	if index < 0 || index >= len(s.snapshots) {
		s.mu.Unlock()
		return RestoreResult{}, fmt.Errorf("undo: snapshot index %d out of range", index)
	}
	snap := s.snapshots[index]
	s.mu.Unlock()

	result := RestoreResult{RestoredCommitID: snap.CommitID}

	if mode == RestoreFilesOnly || mode == RestoreBoth {
		if err := s.git.RestoreSnapshot(ctx, s.repoDir, snap.CommitID); err != nil {
			return RestoreResult{}, fmt.Errorf("undo: restore files: %w", err)
		}
		result.FilesRestored = true
	}
	if mode == RestoreConversationOnly || mode == RestoreBoth {
		h := snap.History
		result.ConversationSnapshot = &h
	}
	return result, nil
}
