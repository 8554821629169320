// Package collab defines the narrow interfaces the core depends on for
// its external collaborators: Git plumbing, the model-provider HTTP
// streaming client, config-file persistence, clipboard/screenshot
// helpers, and the review UI dialog. Terminal rendering and markdown
// highlighting have no interface here. The core only ever calls through
// these interfaces;
// concrete implementations are swappable collaborators, not part of the
// four core subsystems.
package collab

import "context"

// Git is the narrow Git plumbing contract the core needs: capture a
// snapshot, restore one, list changed paths, and manage worktrees —
// nothing else.
type Git interface {
	// CreateWorktree creates branch (from base, or HEAD if base is empty)
	// checked out at a fresh directory under root, returning that path.
	CreateWorktree(ctx context.Context, root, branch, base string) (path string, err error)
	// RemoveWorktree removes a worktree directory and prunes its git
	// metadata.
	RemoveWorktree(ctx context.Context, path string) error
	// CaptureSnapshot commits the working tree's current state (including
	// untracked files) to a detached "ghost" commit and returns its id.
	CaptureSnapshot(ctx context.Context, repoDir string) (commitID string, err error)
	// RestoreSnapshot resets repoDir's working tree to commitID.
	RestoreSnapshot(ctx context.Context, repoDir, commitID string) error
	// DiffNameOnly returns changed paths between two refs (commit ids or
	// "HEAD"), or against the working tree when to == "".
	DiffNameOnly(ctx context.Context, repoDir, from, to string) ([]string, error)
	// NumstatSummary returns "+added -removed path" lines the way `git
	// show --numstat` / `git diff --numstat` do, for /undo previews.
	NumstatSummary(ctx context.Context, repoDir, from, to string) ([]string, error)
}

// ConfigPersistence is the config-file (TOML) I/O surface the typed
// setters in internal/config write through.
type ConfigPersistence interface {
	ReadFile(path string) ([]byte, error)
	WriteFileAtomic(path string, data []byte) error
	EnsureDir(path string) error
}

// ProviderClient is the model-provider streaming client. The Turn
// Runtime only ever consumes the channel of ProviderEvent this interface
// promises to deliver; the HTTP wire protocol lives behind it.
type ProviderClient interface {
	StreamTurn(ctx context.Context, prompt string) (<-chan ProviderEvent, error)
}

// ProviderEvent is the minimal shape the ordering step needs from a
// provider event: the order-meta triple plus an opaque payload the
// caller downcasts.
type ProviderEvent struct {
	RequestOrdinal uint64
	OutputIndex    *int32
	SequenceNumber *uint64
	Payload        any
}

// ReviewDialog is the in-process review UI dialog. The post-turn review
// flow only needs to know whether a human approved a finding, not how
// the dialog was drawn.
type ReviewDialog interface {
	PresentFindings(ctx context.Context, findings []string) (approved bool, err error)
}

// Clipboard is the clipboard/screenshot helper.
type Clipboard interface {
	Copy(text string) error
	Screenshot(ctx context.Context) (path string, err error)
}
