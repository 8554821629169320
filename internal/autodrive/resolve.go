package autodrive

// ResolvePhase is one state of the auto-resolve state machine.
type ResolvePhase string

const (
	// ResolveNone means no fix/judge cycle is in flight.
	ResolveNone            ResolvePhase = ""
	ResolveWaitingForReview ResolvePhase = "waiting_for_review"
	ResolvePendingFix       ResolvePhase = "pending_fix"
	ResolveAwaitingFix      ResolvePhase = "awaiting_fix"
	ResolveAwaitingJudge    ResolvePhase = "awaiting_judge"
)

// ResolveState is the auto-resolve machine's current position along
// `WaitingForReview -> PendingFix -> AwaitingFix -> AwaitingJudge`.
type ResolveState struct {
	Phase    ResolvePhase
	ReviewID string
	Attempt  int
}

// JudgeVerdict is process_judge's return shape.
type JudgeVerdict struct {
	Status    string // "ok" | "review_again"
	Rationale string
}

// AutoResolve drives the post-review fix/judge cycle with an attempt cap.
type AutoResolve struct {
	state       ResolveState
	maxAttempts int
	notices     NoticePublisher
}

// NewAutoResolve returns an AutoResolve capped at maxAttempts fix/judge
// cycles.
func NewAutoResolve(maxAttempts int, notices NoticePublisher) *AutoResolve {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &AutoResolve{maxAttempts: maxAttempts, notices: notices}
}

// State returns the current ResolveState.
func (r *AutoResolve) State() ResolveState {
	return r.state
}

// HandleReviewExit implements handle_review_exit(review): findings>0
// enters PendingFix, otherwise the state clears.
func (r *AutoResolve) HandleReviewExit(reviewID string, findingsCount int) {
	if findingsCount > 0 {
		r.state = ResolveState{Phase: ResolvePendingFix, ReviewID: reviewID, Attempt: r.state.Attempt}
		return
	}
	r.state = ResolveState{}
}

// BeginFix moves PendingFix -> AwaitingFix once the fix turn has actually
// been scheduled (the developer note has gone out).
func (r *AutoResolve) BeginFix() {
	if r.state.Phase == ResolvePendingFix {
		r.state.Phase = ResolveAwaitingFix
	}
}

// OnTaskComplete implements on_task_complete(msg): if the follow-up fix
// turn just finished, move AwaitingFix -> AwaitingJudge.
func (r *AutoResolve) OnTaskComplete() {
	if r.state.Phase == ResolveAwaitingFix {
		r.state.Phase = ResolveAwaitingJudge
	}
}

// ProcessJudge implements process_judge(review, judge_json): a
// "review_again" verdict under the attempt cap increments Attempt and
// loops back to WaitingForReview; at the cap, or on any other verdict,
// the state clears.
func (r *AutoResolve) ProcessJudge(judgeStatus, rationale string) JudgeVerdict {
	if judgeStatus != "review_again" {
		r.state = ResolveState{}
		return JudgeVerdict{Status: "ok", Rationale: rationale}
	}
	if r.state.Attempt+1 >= r.maxAttempts {
		if r.notices != nil {
			r.notices.PublishNotice("Auto-resolve attempt limit reached; leaving the remaining findings for manual review.")
		}
		r.state = ResolveState{}
		return JudgeVerdict{Status: "ok", Rationale: "attempt limit reached"}
	}
	r.state = ResolveState{Phase: ResolveWaitingForReview, ReviewID: r.state.ReviewID, Attempt: r.state.Attempt + 1}
	return JudgeVerdict{Status: "review_again", Rationale: rationale}
}
