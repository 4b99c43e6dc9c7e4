// Package plan holds the action vocabulary shared between Component E
// (internal/planner, which produces a Plan) and Component F
// (internal/executor, which applies one). Separating the vocabulary from
// both producer and consumer lets tests build Plans directly without
// depending on the planner's snapshot-diffing logic.
package plan

// ActionKind enumerates the action categories named in §4.E, also used as
// the fixed execution order of §4.F.
type ActionKind string

const (
	ActionCreateDiscussion  ActionKind = "create_discussion"
	ActionResolveDiscussion ActionKind = "resolve_discussion"
	ActionAddAssignees      ActionKind = "add_assignees"
	ActionRebase            ActionKind = "rebase"
	ActionTriggerPipeline   ActionKind = "trigger_pipeline"
	ActionMerge             ActionKind = "merge"
	ActionTransitionIssue   ActionKind = "transition_issue"
	ActionCommentOnIssue    ActionKind = "comment_on_issue"
	ActionCommentOnMR       ActionKind = "comment_on_mr"
	ActionFollowUp          ActionKind = "follow_up"
)

// Order is the fixed execution order of §4.F. Executor sorts a Plan's
// actions by this order before applying them, breaking ties by original
// planning order (stable sort).
var Order = map[ActionKind]int{
	ActionCreateDiscussion:  0,
	ActionResolveDiscussion: 0,
	ActionAddAssignees:      1,
	ActionRebase:            2,
	ActionTriggerPipeline:   3,
	ActionMerge:             4,
	ActionTransitionIssue:   5,
	ActionCommentOnIssue:    5,
	ActionCommentOnMR:       5,
	ActionFollowUp:          6,
}

// Action is a single planned side effect, carrying the idempotence key
// named in §4.E: "(mr_id, action-kind, content fingerprint)".
type Action struct {
	Kind ActionKind
	MRID string

	// Fingerprint is the content fingerprint component of the idempotence
	// key; for discussion actions it is the Finding fingerprint, for others
	// it is derived from the action's distinguishing content.
	Fingerprint string

	// DiscussionBody / DiscussionID are populated for discussion actions.
	DiscussionBody string
	DiscussionID   string

	// Assignees is populated for ActionAddAssignees.
	Assignees []string

	// MergeMessage is populated for ActionMerge.
	MergeMessage string
	Squash       bool

	// RebaseTargetBranch is populated for ActionRebase.
	RebaseTargetBranch string

	// PipelineJobPrefixExclude is the `:no-bot-start` suffix exclusion and
	// AutorunStage is the stage whose jobs are treated as already running
	// (§4.E.3).
	PipelineJobPrefixExclude string
	AutorunStage             string

	// IssueKey / Transition / CommentBody are populated for issue actions.
	// FallbackTransition is attempted by the executor when Transition is not
	// among the issue's available transitions (§4.E.6: "Waiting for QA",
	// falling back to "Closed").
	IssueKey           string
	Transition         string
	FallbackTransition string
	CommentBody        string

	// FollowUpDraft marks the follow-up mode for ActionFollowUp.
	FollowUpDraft bool
}

// Key is the full idempotence key of an action.
func (a Action) Key() string {
	return a.MRID + "|" + string(a.Kind) + "|" + a.Fingerprint
}

// Plan is an ordered, idempotent set of actions for one evaluation cycle.
type Plan struct {
	MRID    string
	Actions []Action
}

// Add appends an action to the plan.
func (p *Plan) Add(a Action) {
	a.MRID = p.MRID
	p.Actions = append(p.Actions, a)
}

// IsEmpty reports whether the plan has no actions — used to test the
// convergence property (§8.2): re-running on a settled MR yields an empty
// plan.
func (p *Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}
