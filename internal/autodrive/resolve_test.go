package autodrive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// The resolver performs at most maxAttempts fix/judge cycles before
// halting.
func TestAutoResolveRespectsAttemptCap(t *testing.T) {
	r := NewAutoResolve(2, nil)

	r.HandleReviewExit("review-1", 3)
	require.Equal(t, ResolvePendingFix, r.State().Phase)

	r.BeginFix()
	require.Equal(t, ResolveAwaitingFix, r.State().Phase)

	r.OnTaskComplete()
	require.Equal(t, ResolveAwaitingJudge, r.State().Phase)

	verdict := r.ProcessJudge("review_again", "still failing")
	require.Equal(t, "review_again", verdict.Status)
	require.Equal(t, ResolveWaitingForReview, r.State().Phase)
	require.Equal(t, 1, r.State().Attempt)

	// Second cycle reaches the cap (maxAttempts=2) and must halt.
	r.HandleReviewExit("review-1", 2)
	r.BeginFix()
	r.OnTaskComplete()
	verdict = r.ProcessJudge("review_again", "still failing")
	require.Equal(t, "ok", verdict.Status)
	require.Equal(t, ResolveNone, r.State().Phase)
}

func TestAutoResolveClearsOnNoFindings(t *testing.T) {
	r := NewAutoResolve(5, nil)
	r.HandleReviewExit("review-1", 0)
	require.Equal(t, ResolveNone, r.State().Phase)
}

func TestAutoResolveClearsOnOkVerdict(t *testing.T) {
	r := NewAutoResolve(5, nil)
	r.HandleReviewExit("review-1", 1)
	r.BeginFix()
	r.OnTaskComplete()
	verdict := r.ProcessJudge("ok", "looks good")
	require.Equal(t, "ok", verdict.Status)
	require.Equal(t, ResolveNone, r.State().Phase)
}
