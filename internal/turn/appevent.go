package turn

import "github.com/opencoder/agentshell/internal/history"

// AppEventKind discriminates the wire events the core emits to the UI
// thread.
type AppEventKind string

const (
	AppEventDispatchCommand      AppEventKind = "dispatch_command"
	AppEventOpenExternalEditor   AppEventKind = "open_external_editor"
	AppEventRequestRedraw        AppEventKind = "request_redraw"
	AppEventSwitchCwd            AppEventKind = "switch_cwd"
	AppEventJumpBack             AppEventKind = "jump_back"
	AppEventGhostSnapshotFinished AppEventKind = "ghost_snapshot_finished"
	AppEventRunReviewWithScope   AppEventKind = "run_review_with_scope"
	AppEventShowShellSelector    AppEventKind = "show_shell_selector"
	AppEventExitRequested        AppEventKind = "exit_requested"
)

// AppEvent is the tagged wire-event union the core emits to the UI
// thread; each event is processed there and yields at most one redraw
// per batch.
type AppEvent struct {
	Kind AppEventKind

	Command string // DispatchCommand
	Path    string // OpenExternalEditor, SwitchCwd

	// JumpBack fields.
	Nth              int
	Prefill          string
	HistorySnapshot  *history.Snapshot

	Scope string // RunReviewWithScope
}
