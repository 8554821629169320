// Package history implements the append-mostly, globally-ordered store
// of heterogeneous history cells: a single Apply entry point over a
// tagged record union, plus snapshot/restore for /undo.
package history

import (
	"time"

	"github.com/opencoder/agentshell/internal/order"
)

// Kind discriminates the tagged record union.
type Kind string

const (
	KindPlainMessage    Kind = "plain_message"
	KindAssistantStream Kind = "assistant_stream"
	KindAssistantMsg    Kind = "assistant_message"
	KindReasoning       Kind = "reasoning"
	KindExec            Kind = "exec"
	KindMergedExec      Kind = "merged_exec"
	KindRunningTool     Kind = "running_tool"
	KindToolCall        Kind = "tool_call"
	KindPatch           Kind = "patch"
	KindDiff            Kind = "diff"
	KindImage           Kind = "image"
	KindContext         Kind = "context"
	KindPlanUpdate      Kind = "plan_update"
	KindUpgradeNotice   Kind = "upgrade_notice"
	KindRateLimits      Kind = "rate_limits"
	KindBackgroundEvent Kind = "background_event"
	KindLoading         Kind = "loading"
	KindWaitStatus      Kind = "wait_status"
	KindExplore         Kind = "explore"
)

// Record is implemented by every history cell. Renderers are pure
// functions from Record to display lines, never methods on live objects,
// so Record itself carries only data and identity.
type Record interface {
	Kind() Kind
	HistoryID() order.HistoryId
	withHistoryID(order.HistoryId) Record
}

type base struct {
	ID order.HistoryId
}

func (b base) HistoryID() order.HistoryId { return b.ID }

// ExecStatus is the single-writer lifecycle of an Exec record.
type ExecStatus string

const (
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// PlainMessage is a user prompt, notice, error, or finalized assistant
// markdown paragraph.
type PlainMessage struct {
	base
	Role   string
	Kind_  string
	Header string
	Lines  []string
}

func (r PlainMessage) Kind() Kind { return KindPlainMessage }
func (r PlainMessage) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// AssistantStream is a live-updating text stream. It owns a StreamID
// distinct from HistoryId because many provider retries can share one
// stream id.
type AssistantStream struct {
	base
	StreamID             string
	PreviewMarkdown      string
	Deltas               []string
	InProgress           bool
	TruncatedPrefixBytes int
}

func (r AssistantStream) Kind() Kind { return KindAssistantStream }
func (r AssistantStream) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// AssistantMessage is the finalized answer for a stream.
type AssistantMessage struct {
	base
	Markdown  string
	Citations []string
}

func (r AssistantMessage) Kind() Kind { return KindAssistantMsg }
func (r AssistantMessage) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Reasoning holds (optionally collapsed) chain-of-thought lines.
type Reasoning struct {
	base
	Collapsed bool
	Lines     []string
}

func (r Reasoning) Kind() Kind { return KindReasoning }
func (r Reasoning) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// ExecWait tracks an Exec record's wait totals and notes.
type ExecWait struct {
	Total  int
	Active int
	Notes  []string
}

// Exec is a single-writer lifecycle record: Running -> (Completed |
// Failed | Cancelled).
type Exec struct {
	base
	CallID     string
	Command    []string
	Parsed     string
	Action     string
	Status     ExecStatus
	StartedAt  time.Time
	WorkingDir string
	Env        map[string]string
	Tags       []string
	Wait       ExecWait
}

func (r Exec) Kind() Kind { return KindExec }
func (r Exec) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// MergedExec groups several Exec records the renderer displays as one.
type MergedExec struct {
	base
	CallIDs []string
}

func (r MergedExec) Kind() Kind { return KindMergedExec }
func (r MergedExec) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// RunningTool is an in-flight tool invocation (pre-result).
type RunningTool struct {
	base
	CallID    string
	Arguments []string
}

func (r RunningTool) Kind() Kind { return KindRunningTool }
func (r RunningTool) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// ToolCall is a finalized tool invocation with its result.
type ToolCall struct {
	base
	CallID string
	Name   string
	Args   string
	Result string
}

func (r ToolCall) Kind() Kind { return KindToolCall }
func (r ToolCall) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Patch is a proposed file-system change.
type Patch struct {
	base
	Summary string
	Body    string
}

func (r Patch) Kind() Kind { return KindPatch }
func (r Patch) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Diff is a rendered unified diff.
type Diff struct {
	base
	Body string
}

func (r Diff) Kind() Kind { return KindDiff }
func (r Diff) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Image references an on-disk or remote image.
type Image struct {
	base
	Path string
	URL  string
}

func (r Image) Kind() Kind { return KindImage }
func (r Image) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Context is a user-attached context blob (files, URLs, snippets).
type Context struct {
	base
	Summary string
}

func (r Context) Kind() Kind { return KindContext }
func (r Context) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// PlanUpdate is an assistant-maintained task plan snapshot.
type PlanUpdate struct {
	base
	Steps []string
}

func (r PlanUpdate) Kind() Kind { return KindPlanUpdate }
func (r PlanUpdate) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// UpgradeNotice tells the user a newer build is available.
type UpgradeNotice struct {
	base
	Version string
}

func (r UpgradeNotice) Kind() Kind { return KindUpgradeNotice }
func (r UpgradeNotice) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// RateLimits is never populated by this module; the record shape is kept
// so the store remains a complete tagged union for renderers.
type RateLimits struct {
	base
	Summary string
}

func (r RateLimits) Kind() Kind { return KindRateLimits }
func (r RateLimits) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// BackgroundEvent is the only record type allowed to be inserted with an
// out-of-band (non-monotonic) key.
type BackgroundEvent struct {
	base
	Text string
}

func (r BackgroundEvent) Kind() Kind { return KindBackgroundEvent }
func (r BackgroundEvent) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Loading is a transient spinner cell.
type Loading struct {
	base
	Label string
}

func (r Loading) Kind() Kind { return KindLoading }
func (r Loading) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// WaitStatus renders the Wait Coordinator's current state for a batch.
type WaitStatus struct {
	base
	BatchID string
	Status  string
}

func (r WaitStatus) Kind() Kind { return KindWaitStatus }
func (r WaitStatus) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}

// Explore lists files/dirs surfaced by an exploration tool call.
type Explore struct {
	base
	Entries []string
}

func (r Explore) Kind() Kind { return KindExplore }
func (r Explore) withHistoryID(id order.HistoryId) Record {
	r.ID = id
	return r
}
