// Package engine wires components C through I into the per-event cycle the
// MR Actor Registry (Component B) drives: project a snapshot, run the rule
// pipeline, plan actions, execute them, and fold command-derived directives
// from unprocessed notes into the next cycle's planning.
//
// Grounded on server/plugin.go's Plugin struct, which holds one field per
// collaborator and exposes a single entry point the host calls per event;
// Engine plays the same role for the actor.Registry.
package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/networkoptix/robocat/internal/command"
	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/executor"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/followup"
	"github.com/networkoptix/robocat/internal/gitworkspace"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/planner"
	"github.com/networkoptix/robocat/internal/rules"
	"github.com/networkoptix/robocat/internal/snapshot"
	"github.com/networkoptix/robocat/internal/tracker"
)

// Engine implements actor.Evaluator, running one full cycle
// (project -> evaluate -> plan -> execute -> follow-up) per call.
type Engine struct {
	ProjectID string
	Cfg       *config.Config
	Log       logging.Logger

	Forge     forge.Client
	Tracker   tracker.Client
	Workspace *gitworkspace.Workspace

	Snapshot *snapshot.Projector
	Rules    *rules.Pipeline
	Planner  *planner.Planner
	Executor *executor.Executor

	mu     sync.Mutex
	states map[string]*mrState
}

// mrState is the in-memory Actor State of §3: last pipeline trigger cause
// (approximated by the last observed merge-base and head SHA) and follow-up
// mode. Loss of this state on restart is tolerated (§3): a fresh cycle
// simply re-triggers the pipeline it would have skipped, at worst.
type mrState struct {
	mu              sync.Mutex
	followUpMode    planner.FollowUpMode
	lastMergeBase   string
	lastHeadSHA     string
	processedNoteIDs map[string]struct{}
}

// New builds an Engine from its collaborators. Workspace may be nil, in
// which case rebase/cherry-pick/push actions and the rebase-affects-diff
// heuristic are skipped (§4.G is an optional collaborator when no on-disk
// checkout is configured).
func New(projectID string, cfg *config.Config, log logging.Logger, f forge.Client, tr tracker.Client, ws *gitworkspace.Workspace, rulePipeline *rules.Pipeline) *Engine {
	snap := snapshot.New(f, tr, cfg)
	plnr := planner.New(cfg)
	fu := followup.New(f, tr, ws, log)
	exec := &executor.Executor{
		Forge:     f,
		Tracker:   tr,
		Workspace: ws,
		FollowUp:  fu,
		Log:       log,
		ProjectID: projectID,
	}
	return &Engine{
		ProjectID: projectID,
		Cfg:       cfg,
		Log:       log,
		Forge:     f,
		Tracker:   tr,
		Workspace: ws,
		Snapshot:  snap,
		Rules:     rulePipeline,
		Planner:   plnr,
		Executor:  exec,
		states:    map[string]*mrState{},
	}
}

func (e *Engine) stateFor(mrID string) *mrState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.states[mrID]
	if !ok {
		s = &mrState{processedNoteIDs: map[string]struct{}{}}
		e.states[mrID] = s
	}
	return s
}

// Evaluate runs one full cycle for mrID, implementing actor.Evaluator.
func (e *Engine) Evaluate(ctx context.Context, mrID string) model.CycleOutcome {
	result, err := e.Snapshot.Project(ctx, e.ProjectID, mrID)
	if err != nil {
		if isTransient(err) {
			return model.Deferred(err.Error())
		}
		return model.Failed(err)
	}

	state := e.stateFor(mrID)
	dir := e.applyCommands(ctx, state, result)

	rebaseAffectsDiff, newCommits := e.diffHeuristics(ctx, state, result)

	findings := e.Rules.Evaluate(result, e.Cfg)
	p := e.Planner.Plan(result, findings, dir, rebaseAffectsDiff, newCommits)

	res := e.Executor.Execute(ctx, p)
	if len(res.FailedFindings) > 0 {
		e.Log.Warn("cycle produced failed-action findings", "mr_id", mrID, "count", len(res.FailedFindings))
	}
	return model.Completed()
}

// applyCommands scans notes not yet processed for this MR's state for
// `@<bot-handle> <verb>` invocations (§4.I), folding them into this cycle's
// Directives and performing any side effect that must happen immediately
// (follow-up/draft-follow-up regeneration, which is not expressed as a
// plan.Action since it is not gated on a merge happening *this* cycle).
func (e *Engine) applyCommands(ctx context.Context, state *mrState, result snapshot.Result) planner.Directives {
	state.mu.Lock()
	dir := planner.Directives{FollowUpMode: state.followUpMode}
	state.mu.Unlock()

	notes, err := e.Forge.ListNotes(ctx, e.ProjectID, result.MR.ID)
	if err != nil {
		e.Log.Warn("failed to list notes for command parsing", "mr_id", result.MR.ID, "error", err)
		return dir
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	for _, n := range notes {
		if n.Author == e.Cfg.BotHandle {
			continue
		}
		if _, seen := state.processedNoteIDs[n.ID]; seen {
			continue
		}
		cmd, ok := command.Parse(e.Cfg.BotHandle, n.Body)
		if !ok {
			continue
		}
		state.processedNoteIDs[n.ID] = struct{}{}

		switch cmd.Verb {
		case command.VerbProcess:
			// No extra state: this cycle itself is the forced re-evaluation.
		case command.VerbRunPipeline:
			dir.ForceRunPipeline = true
		case command.VerbDraftFollowUp:
			if result.MR.Merged {
				if err := e.Executor.FollowUp.GenerateMode(ctx, e.ProjectID, result.MR.ID, true); err != nil {
					e.Log.Warn("draft follow-up regeneration failed", "mr_id", result.MR.ID, "error", err)
				}
			} else {
				state.followUpMode = planner.FollowUpDraft
				dir.FollowUpMode = planner.FollowUpDraft
			}
		case command.VerbFollowUp:
			if result.MR.Merged {
				draft := state.followUpMode == planner.FollowUpDraft
				if err := e.Executor.FollowUp.GenerateMode(ctx, e.ProjectID, result.MR.ID, draft); err != nil {
					e.Log.Warn("follow-up regeneration failed", "mr_id", result.MR.ID, "error", err)
				}
			}
		}
	}
	return dir
}

// diffHeuristics implements the Open Question decision recorded in
// DESIGN.md: "rebase affects the diff" means the merge-base changed since
// the last cycle and the pre/post merge-base trees differ non-trivially.
func (e *Engine) diffHeuristics(ctx context.Context, state *mrState, result snapshot.Result) (rebaseAffectsDiff, newCommits bool) {
	headSHA := result.MR.Pipeline.HeadSHA
	if headSHA == "" && len(result.MR.Commits) > 0 {
		headSHA = result.MR.Commits[len(result.MR.Commits)-1].SHA
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	newCommits = state.lastHeadSHA != "" && state.lastHeadSHA != headSHA
	state.lastHeadSHA = headSHA

	if e.Workspace == nil {
		return false, newCommits
	}

	newBase, err := e.Workspace.MergeBase(ctx, result.MR.TargetBranch, result.MR.SourceBranch)
	if err != nil {
		e.Log.Debug("merge-base lookup failed; assuming rebase affects diff", "mr_id", result.MR.ID, "error", err)
		return true, newCommits
	}

	if state.lastMergeBase != "" && state.lastMergeBase != newBase {
		empty, err := e.Workspace.DiffIsEmpty(ctx, state.lastMergeBase, newBase)
		if err != nil {
			rebaseAffectsDiff = true
		} else {
			rebaseAffectsDiff = !empty
		}
	}
	state.lastMergeBase = newBase
	return rebaseAffectsDiff, newCommits
}

// isTransient is the same Temporary()-interface check the executor uses,
// applied to snapshot errors so a flaky forge/tracker call defers the cycle
// instead of permanently failing it (§4.C, §7).
func isTransient(err error) bool {
	var transient interface{ Temporary() bool }
	if errors.As(err, &transient) {
		return transient.Temporary()
	}
	return false
}
