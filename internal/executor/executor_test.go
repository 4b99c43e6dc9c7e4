package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/followup"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/plan"
	"github.com/networkoptix/robocat/internal/tracker"
)

func newExecutor(f *forge.Fake, tr *tracker.Fake) *Executor {
	return &Executor{
		Forge:     f,
		Tracker:   tr,
		Workspace: nil,
		FollowUp:  followup.New(f, tr, nil, nil),
		ProjectID: "proj",
	}
}

func TestExecute_AppliesActionsInFixedOrder(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1", Mergeability: model.MergeabilityMergeable}
	tr := tracker.NewFake()
	tr.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1", Status: "In Review"}

	e := newExecutor(f, tr)
	p := plan.Plan{MRID: "1"}
	// Add out of order on purpose; the executor must still apply them
	// discussions -> assignees -> rebase -> pipeline -> merge -> issues -> follow-ups.
	p.Add(plan.Action{Kind: plan.ActionTransitionIssue, Fingerprint: "PROJ-1", IssueKey: "PROJ-1", Transition: "Waiting for QA"})
	p.Add(plan.Action{Kind: plan.ActionMerge, Fingerprint: "1", MergeMessage: "msg"})
	p.Add(plan.Action{Kind: plan.ActionAddAssignees, Fingerprint: "bob", Assignees: []string{"bob"}})
	p.Add(plan.Action{Kind: plan.ActionCreateDiscussion, Fingerprint: "workflow:1", DiscussionBody: "hello"})

	result := e.Execute(context.Background(), p)

	assert.Empty(t, result.FailedFindings)
	assert.True(t, f.Merged["proj/1"])
	assert.Equal(t, []string{"bob"}, f.MRs["proj/1"].Assignees)
	assert.Equal(t, "Waiting for QA", tr.Issues["PROJ-1"].Status)
}

func TestExecute_MergeRejectedAbortsRemainderWithoutError(t *testing.T) {
	f := forge.NewFake()
	// No MR registered for iid "1": Merge's underlying GetMR-free path still
	// succeeds for Fake.Merge, so force "not mergeable" via a custom Forge.
	notMergeable := &forgeRejectingMerge{Fake: f}
	tr := tracker.NewFake()

	e := newExecutor(f, tr)
	e.Forge = notMergeable

	p := plan.Plan{MRID: "1"}
	p.Add(plan.Action{Kind: plan.ActionMerge, Fingerprint: "1", MergeMessage: "msg"})
	p.Add(plan.Action{Kind: plan.ActionTransitionIssue, Fingerprint: "PROJ-1", IssueKey: "PROJ-1", Transition: "Waiting for QA"})

	result := e.Execute(context.Background(), p)
	require.True(t, result.MergeAborted)
	assert.Empty(t, result.FailedFindings)
}

func TestExecute_TransitionIssueFallsBackToClosedWhenWaitingForQAIsUnavailable(t *testing.T) {
	f := forge.NewFake()
	tr := tracker.NewFake()
	tr.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1", Status: "In Review"}
	tr.UnavailableTransitions = map[string]bool{"Waiting for QA": true}

	e := newExecutor(f, tr)
	p := plan.Plan{MRID: "1"}
	p.Add(plan.Action{
		Kind: plan.ActionTransitionIssue, Fingerprint: "PROJ-1", IssueKey: "PROJ-1",
		Transition: "Waiting for QA", FallbackTransition: "Closed",
	})

	result := e.Execute(context.Background(), p)
	assert.Empty(t, result.FailedFindings)
	assert.Equal(t, "Closed", tr.Issues["PROJ-1"].Status)
}

func TestExecute_TransitionIssueFailsWhenNoFallbackConfigured(t *testing.T) {
	f := forge.NewFake()
	tr := tracker.NewFake()
	tr.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1", Status: "In Review"}
	tr.UnavailableTransitions = map[string]bool{"Waiting for QA": true}

	e := newExecutor(f, tr)
	p := plan.Plan{MRID: "1"}
	p.Add(plan.Action{Kind: plan.ActionTransitionIssue, Fingerprint: "PROJ-1", IssueKey: "PROJ-1", Transition: "Waiting for QA"})

	result := e.Execute(context.Background(), p)
	require.Len(t, result.FailedFindings, 1)
	assert.Equal(t, "In Review", tr.Issues["PROJ-1"].Status)
}

// forgeRejectingMerge wraps a Fake but always rejects Merge as not mergeable.
type forgeRejectingMerge struct {
	*forge.Fake
}

func (f *forgeRejectingMerge) Merge(ctx context.Context, projectID, mrIID, message string, squash bool) error {
	return errors.New("not mergeable: merge conflicts present")
}
