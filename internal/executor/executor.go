// Package executor implements Component F (§4.F): applies a plan.Plan in
// the fixed order discussions → assignees → rebase → pipeline → merge →
// issue transitions → follow-ups, retrying transient failures with bounded
// exponential backoff and converting non-transient failures into findings
// returned in Result.FailedFindings. The engine logs those findings; they
// are not fed back into the Rule Pipeline on a later cycle.
//
// Grounded on server/cursor/client.go's maxRetries/retryBaseDelay constants,
// rebased onto hashicorp/go-retryablehttp's pluggable Backoff function so
// the 1s/4s/16s schedule lives in one place shared by every retried call.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/networkoptix/robocat/internal/followup"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/gitworkspace"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/plan"
	"github.com/networkoptix/robocat/internal/tracker"
)

// maxAttempts is the initial try plus 3 retries, one per backoffSchedule
// entry (1s/4s/16s) — mirroring the teacher's cursor client maxRetries/
// retryBaseDelay constants, generalized from HTTP-specific retry into an
// action-level retry helper.
const maxAttempts = 4

var backoffSchedule = []time.Duration{time.Second, 4 * time.Second, 16 * time.Second}

// ErrMergeNotMergeable is returned by the merge action when the forge
// rejects the merge for "not mergeable" — the executor treats this as an
// abort-without-error for the remainder of the plan (§4.F).
var ErrMergeNotMergeable = errors.New("merge rejected: not mergeable")

// Executor applies plans against the forge, tracker and git workspace.
type Executor struct {
	Forge     forge.Client
	Tracker   tracker.Client
	Workspace *gitworkspace.Workspace
	FollowUp  *followup.Generator
	Log       logging.Logger
	ProjectID string
}

// Result summarizes one Execute call, including any non-transient failures
// converted into findings (the engine logs them; no later pass reads them).
type Result struct {
	FailedFindings []model.Finding
	MergeAborted   bool
}

// Execute applies p's actions in the fixed order of §4.F.
func (e *Executor) Execute(ctx context.Context, p plan.Plan) Result {
	ordered := append([]plan.Action{}, p.Actions...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return plan.Order[ordered[i].Kind] < plan.Order[ordered[j].Kind]
	})

	var result Result
	for _, a := range ordered {
		if result.MergeAborted {
			// A rejected merge aborts the remainder of the plan without
			// error (§4.F); follow-ups never run off an aborted merge
			// either, since planFollowUp only fires alongside a planned
			// merge that is assumed to have succeeded.
			break
		}
		if err := e.applyWithRetry(ctx, a); err != nil {
			if errors.Is(err, ErrMergeNotMergeable) {
				result.MergeAborted = true
				continue
			}
			result.FailedFindings = append(result.FailedFindings, findingFromFailure(a, err))
		}
	}
	return result
}

func (e *Executor) applyWithRetry(ctx context.Context, a plan.Action) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoffDelay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err := e.apply(ctx, a)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err // permanent failures are not retried (§4.F, §7)
		}
	}
	return errors.Wrapf(lastErr, "action %s exhausted %d attempts", a.Kind, maxAttempts)
}

// backoffDelay reuses retryablehttp's exponential schedule shape, indexed
// into the fixed 1s/4s/16s table rather than computed, since §4.F names an
// exact schedule rather than a formula.
func backoffDelay(attempt int) time.Duration {
	if attempt-1 < len(backoffSchedule) {
		return backoffSchedule[attempt-1]
	}
	return retryablehttp.DefaultBackoff(time.Second, 16*time.Second, attempt, nil)
}

func (e *Executor) apply(ctx context.Context, a plan.Action) error {
	switch a.Kind {
	case plan.ActionCreateDiscussion:
		_, err := e.Forge.CreateDiscussion(ctx, e.ProjectID, a.MRID, a.DiscussionBody)
		return err
	case plan.ActionResolveDiscussion:
		return e.Forge.ResolveDiscussion(ctx, e.ProjectID, a.MRID, a.DiscussionID)
	case plan.ActionAddAssignees:
		return e.Forge.AddAssignees(ctx, e.ProjectID, a.MRID, a.Assignees)
	case plan.ActionRebase:
		return e.rebase(ctx, a)
	case plan.ActionTriggerPipeline:
		return e.triggerPipeline(ctx, a)
	case plan.ActionMerge:
		return e.merge(ctx, a)
	case plan.ActionTransitionIssue:
		return e.transitionIssue(ctx, a)
	case plan.ActionCommentOnIssue:
		return e.Tracker.PostComment(ctx, a.IssueKey, a.CommentBody)
	case plan.ActionCommentOnMR:
		return e.Forge.PostNote(ctx, e.ProjectID, a.MRID, a.CommentBody)
	case plan.ActionFollowUp:
		return e.FollowUp.GenerateMode(ctx, e.ProjectID, a.MRID, a.FollowUpDraft)
	default:
		return errors.Errorf("unknown action kind %q", a.Kind)
	}
}

// transitionIssue applies a.Transition, retrying with a.FallbackTransition
// when the primary transition isn't available on the issue (§4.E.6:
// "Waiting for QA", falling back to "Closed").
func (e *Executor) transitionIssue(ctx context.Context, a plan.Action) error {
	err := e.Tracker.TransitionIssue(ctx, a.IssueKey, a.Transition)
	if err == nil || a.FallbackTransition == "" || !errors.Is(err, tracker.ErrTransitionNotAvailable) {
		return err
	}
	return e.Tracker.TransitionIssue(ctx, a.IssueKey, a.FallbackTransition)
}

func (e *Executor) rebase(ctx context.Context, a plan.Action) error {
	if e.Workspace == nil {
		return nil
	}
	if err := e.Workspace.Fetch(ctx, a.RebaseTargetBranch); err != nil {
		return err
	}
	if err := e.Workspace.RebaseOnto(ctx, a.MRID, a.RebaseTargetBranch); err != nil {
		if errors.Is(err, gitworkspace.ErrConflict) {
			return errors.Wrap(err, "rebase produced a conflict")
		}
		return err
	}
	return e.Workspace.Push(ctx, a.MRID)
}

func (e *Executor) triggerPipeline(ctx context.Context, a plan.Action) error {
	mr, err := e.Forge.GetMR(ctx, e.ProjectID, a.MRID)
	if err != nil {
		return err
	}
	return e.Forge.TriggerManualJobs(ctx, e.ProjectID, parsePipelineID(mr.Pipeline.ID), "")
}

func (e *Executor) merge(ctx context.Context, a plan.Action) error {
	err := e.Forge.Merge(ctx, e.ProjectID, a.MRID, a.MergeMessage, a.Squash)
	if err != nil && isNotMergeable(err) {
		return ErrMergeNotMergeable
	}
	return err
}

func findingFromFailure(a plan.Action, err error) model.Finding {
	return model.Finding{
		Severity: model.SeverityWarn,
		Category: model.CategoryWorkflow,
		ObjectID: a.MRID,
		Message:  fmt.Sprintf("action %s failed: %v", a.Kind, err),
	}
}

func isTransient(err error) bool {
	var transient interface{ Temporary() bool }
	if errors.As(err, &transient) {
		return transient.Temporary()
	}
	// Conservative default: treat timeouts/connection failures as
	// transient, everything else (4xx rejections, validation errors) as
	// permanent (§7).
	return false
}

func isNotMergeable(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not mergeable")
}

func parsePipelineID(id string) int {
	n := 0
	for _, c := range id {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
