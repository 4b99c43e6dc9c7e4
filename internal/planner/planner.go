// Package planner implements Component E (§4.E): the Action Planner. It
// diffs desired state (findings + current snapshot) against observed state
// (the MR's open discussions, assignees, pipeline) and produces a minimal,
// idempotent plan.Plan for the executor to apply.
//
// Grounded on server/reviewloop.go's ensureReviewLoop/startReviewLoop
// "check-what-already-exists-before-creating" idiom, generalized from a
// single review-loop record to the seven planning steps of §4.E.
package planner

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/plan"
	"github.com/networkoptix/robocat/internal/snapshot"
)

// Directives carries the command-derived overrides of §4.I that influence
// planning for this cycle (force re-evaluation is handled upstream by the
// actor; these two are the ones that change what gets planned).
type Directives struct {
	ForceRunPipeline bool
	FollowUpMode     FollowUpMode
}

// FollowUpMode mirrors §3's Actor State field of the same name.
type FollowUpMode int

const (
	FollowUpNormal FollowUpMode = iota
	FollowUpDraft
)

// Planner plans actions for one evaluation cycle.
type Planner struct {
	cfg *config.Config
}

// New builds a Planner bound to the process configuration.
func New(cfg *config.Config) *Planner {
	return &Planner{cfg: cfg}
}

// Plan builds the action plan for one cycle, given the fresh snapshot, the
// findings the Rule Pipeline produced, and any command-derived directives.
func (p *Planner) Plan(result snapshot.Result, findings []model.Finding, dir Directives, rebaseAffectsDiff bool, newCommitsSincePriorCycle bool) plan.Plan {
	out := plan.Plan{MRID: result.MR.ID}

	p.planDiscussions(&out, result, findings)
	p.planAssignees(&out, result, findings)

	p.planPipeline(&out, result, findings, dir, rebaseAffectsDiff, newCommitsSincePriorCycle)

	p.planMerge(&out, result, findings)
	p.planIssueTransitions(&out, result)
	p.planFollowUp(&out, result, dir)

	return out
}

// --- 1. Comment/Discussion reconciliation ------------------------------------

func (p *Planner) planDiscussions(out *plan.Plan, result snapshot.Result, findings []model.Finding) {
	current := map[string]model.Finding{}
	for _, f := range findings {
		if f.Severity < model.SeverityWarn {
			continue
		}
		current[f.Fingerprint()] = f
	}

	for fp, f := range current {
		if _, open := result.MR.OpenDiscussions[fp]; open {
			continue // already open — no-op (§4.E.1)
		}
		out.Add(plan.Action{
			Kind:           plan.ActionCreateDiscussion,
			Fingerprint:    fp,
			DiscussionBody: formatFindingBody(f),
		})
	}

	for fp, ref := range result.MR.OpenDiscussions {
		if ref.Resolved {
			continue
		}
		if _, stillFinding := current[fp]; stillFinding {
			continue
		}
		category := categoryFromFingerprint(fp)
		if !category.SelfHealing() {
			continue // compliance findings are never auto-resolved (§4.E.1)
		}
		out.Add(plan.Action{
			Kind:         plan.ActionResolveDiscussion,
			Fingerprint:  fp,
			DiscussionID: ref.DiscussionID,
		})
	}
}

func formatFindingBody(f model.Finding) string {
	return fmt.Sprintf("%s\n\n<!-- robocat:fingerprint=%s -->", f.Message, f.Fingerprint())
}

func categoryFromFingerprint(fp string) model.Category {
	idx := strings.Index(fp, ":")
	if idx < 0 {
		return model.Category(fp)
	}
	return model.Category(fp[:idx])
}

// --- 2. Assignees -------------------------------------------------------------

func (p *Planner) planAssignees(out *plan.Plan, result snapshot.Result, findings []model.Finding) {
	var required []string
	for _, f := range findings {
		required = append(required, f.RequiredApprovers...)
	}
	required = lo.Uniq(required)

	missing := lo.Filter(required, func(identity string, _ int) bool {
		return !result.MR.HasAssignee(identity)
	})
	if len(missing) == 0 {
		return
	}
	out.Add(plan.Action{
		Kind:        plan.ActionAddAssignees,
		Fingerprint: strings.Join(missing, ","),
		Assignees:   missing,
	})
}

// --- 3 & 4. Pipeline + preceding rebase ---------------------------------------

func (p *Planner) planPipeline(out *plan.Plan, result snapshot.Result, findings []model.Finding, dir Directives, rebaseAffectsDiff, newCommits bool) bool {
	firstRunNoPipeline := result.MR.Pipeline.Status == model.PipelineNone
	approvalsSufficient := !hasBlockingApproval(findings)
	mergeable := result.MR.Mergeability == model.MergeabilityMergeable

	trigger := firstRunNoPipeline ||
		dir.ForceRunPipeline ||
		(newCommits && rebaseAffectsDiff && !result.MR.Draft && approvalsSufficient && mergeable)

	if !trigger {
		return false
	}

	out.Add(plan.Action{
		Kind:               plan.ActionRebase,
		Fingerprint:         "pipeline-precursor",
		RebaseTargetBranch: result.MR.TargetBranch,
	})
	out.Add(plan.Action{
		Kind:                     plan.ActionTriggerPipeline,
		Fingerprint:              result.MR.ID + "-" + result.MR.Pipeline.HeadSHA,
		PipelineJobPrefixExclude: ":no-bot-start",
		AutorunStage:             p.cfg.Pipeline.AutorunStage,
	})
	return true
}

func hasBlockingApproval(findings []model.Finding) bool {
	for _, f := range findings {
		if f.Category == model.CategoryApproval && f.Severity == model.SeverityBlock {
			return true
		}
	}
	return false
}

// --- 5. Merge -------------------------------------------------------------

func (p *Planner) planMerge(out *plan.Plan, result snapshot.Result, findings []model.Finding) {
	if result.MR.Merged {
		return // merging is one-shot; never re-emit ActionMerge for a settled MR (§1(d), §8 Property 2)
	}
	for _, f := range findings {
		if f.Category == model.CategoryMergeReadiness && f.Severity == model.SeverityPass {
			message := result.MR.Title
			if result.MR.Squash {
				message = result.MR.Title + "\n\n" + result.MR.Description
			}
			out.Add(plan.Action{
				Kind:         plan.ActionMerge,
				Fingerprint:  result.MR.ID,
				MergeMessage: message,
				Squash:       result.MR.Squash,
			})
			return
		}
	}
}

// --- 6. Post-merge issue transition ------------------------------------------

// planIssueTransitions only emits actions on the cycle planMerge adds
// ActionMerge to this same plan: the merge and its follow-through (issue
// transition, follow-up) are one atomic plan so the executor applies them in
// plan.Order within a single cycle (§4.E.6). If the MR was already merged by
// an earlier cycle, planMerge (above) does not re-add ActionMerge, so this
// step correctly stays a no-op instead of re-transitioning the issue forever.
func (p *Planner) planIssueTransitions(out *plan.Plan, result snapshot.Result) {
	if result.MR.Merged {
		return
	}
	merged := false
	for _, f := range out.Actions {
		if f.Kind == plan.ActionMerge {
			merged = true
		}
	}
	if !merged {
		return
	}
	for _, ref := range result.MR.ReferencedRefs {
		issue, ok := result.Issues[ref.Key]
		if !ok || !issue.IsSupported {
			continue
		}
		switch issue.Status {
		case "In Review":
			out.Add(plan.Action{
				Kind:               plan.ActionTransitionIssue,
				Fingerprint:        issue.Key,
				IssueKey:           issue.Key,
				Transition:         "Waiting for QA",
				FallbackTransition: "Closed", // §4.E.6: executor retries with this when "Waiting for QA" isn't available
			})
		case "In Progress":
			out.Add(plan.Action{
				Kind:        plan.ActionCommentOnMR,
				Fingerprint: issue.Key,
				IssueKey:    issue.Key,
				CommentBody: fmt.Sprintf("Merged, but %s is still In Progress.", issue.Key),
			})
		default:
			out.Add(plan.Action{
				Kind:        plan.ActionCommentOnIssue,
				Fingerprint: issue.Key,
				IssueKey:    issue.Key,
				CommentBody: fmt.Sprintf("Merged into %s, but issue status %q was not expected.", result.MR.TargetBranch, issue.Status),
			})
		}
	}
}

// --- 7. Follow-up invocation --------------------------------------------------

func (p *Planner) planFollowUp(out *plan.Plan, result snapshot.Result, dir Directives) {
	if result.MR.IsFollowUp {
		return // §4.E.7: never chain follow-ups from a follow-up merge
	}
	if result.MR.Merged {
		return // already merged in an earlier cycle — planMerge did not re-add ActionMerge this cycle
	}
	merged := false
	for _, a := range out.Actions {
		if a.Kind == plan.ActionMerge {
			merged = true
		}
	}
	if !merged {
		return
	}
	out.Add(plan.Action{
		Kind:          plan.ActionFollowUp,
		Fingerprint:   result.MR.ID,
		FollowUpDraft: dir.FollowUpMode == FollowUpDraft,
	})
}
