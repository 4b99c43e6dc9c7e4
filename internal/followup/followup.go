// Package followup implements Component H (§4.H): after a merge, compute
// the cherry-pick target branches from the referenced issues' fixVersions
// and create one follow-up MR per target branch.
//
// Grounded on server/reviewloop.go's create-then-rollback-on-failure
// sequencing (start an operation, and if a later step fails, still leave
// forge state in a sane, re-attemptable shape rather than rolling back).
package followup

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/gitworkspace"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/tracker"
)

// markerFormat is the provenance phrase §4.H.7 requires in the follow-up
// description, which the Rule Pipeline's snapshot projector later reads to
// classify the MR as a follow-up (§3: "is-follow-up flag ... derived from
// ... 'cherry-picked from' phrase").
const markerFormat = "(cherry-picked from commit %s)"

// Generator builds follow-up MRs from a merged MR snapshot.
type Generator struct {
	Forge     forge.Client
	Tracker   tracker.Client
	Workspace *gitworkspace.Workspace
	Log       logging.Logger
}

// New builds a Generator over the given backends.
func New(f forge.Client, tr tracker.Client, ws *gitworkspace.Workspace, log logging.Logger) *Generator {
	return &Generator{Forge: f, Tracker: tr, Workspace: ws, Log: log}
}

// Generate is GenerateMode with draft mode off. The executor and the engine
// call GenerateMode directly, passing the MR Actor's follow-up-mode state.
func (g *Generator) Generate(ctx context.Context, projectID, mrID string) error {
	return g.GenerateMode(ctx, projectID, mrID, false)
}

// GenerateMode is Generate with an explicit draft-mode override, used by the
// `draft-follow-up` command (§4.I) to regenerate in draft mode post-merge.
func (g *Generator) GenerateMode(ctx context.Context, projectID, mrID string, draft bool) error {
	corrID := correlationID()
	if g.Log != nil {
		g.Log.Info("generating follow-ups", "mr_id", mrID, "correlation_id", corrID, "draft", draft)
	}

	mr, err := g.Forge.GetMR(ctx, projectID, mrID)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch merged MR %s/%s", projectID, mrID)
	}
	if !mr.Merged {
		return errors.Errorf("refusing to generate follow-ups for MR %s/%s: not merged", projectID, mrID)
	}
	if mr.IsFollowUp {
		return nil // §4.E.7: never chain a follow-up from a follow-up merge
	}

	targets, err := g.targetBranches(ctx, mr)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	headSHA := mr.Pipeline.HeadSHA
	if headSHA == "" && len(mr.Commits) > 0 {
		headSHA = mr.Commits[len(mr.Commits)-1].SHA
	}
	shas := commitSHAsToCherryPick(mr)

	var errs []error
	for _, target := range targets {
		if err := g.createFollowUp(ctx, projectID, mr, target, headSHA, shas, draft); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("follow-up generation had %d failure(s): %v", len(errs), errs)
	}
	return nil
}

func (g *Generator) targetBranches(ctx context.Context, mr model.MRSnapshot) ([]string, error) {
	var branches []string
	for _, ref := range mr.ReferencedRefs {
		issue, err := g.Tracker.GetIssue(ctx, ref.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch issue %q for follow-up target resolution", ref.Key)
		}
		for _, fv := range issue.FixVersions {
			if fv.Branch == "" || fv.Branch == mr.TargetBranch {
				continue
			}
			branches = append(branches, fv.Branch)
		}
	}
	return lo.Uniq(branches), nil
}

func commitSHAsToCherryPick(mr model.MRSnapshot) []string {
	if mr.Squash {
		if mr.Pipeline.HeadSHA != "" {
			return []string{mr.Pipeline.HeadSHA}
		}
		if len(mr.Commits) > 0 {
			return []string{mr.Commits[len(mr.Commits)-1].SHA}
		}
		return nil
	}
	shas := make([]string, 0, len(mr.Commits))
	for _, c := range mr.Commits {
		shas = append(shas, c.SHA)
	}
	return shas
}

func (g *Generator) createFollowUp(ctx context.Context, projectID string, mr model.MRSnapshot, targetBranch, headSHA string, shas []string, draft bool) error {
	topicBranch := fmt.Sprintf("%s-followup-%s", mr.SourceBranch, sanitizeBranchSegment(targetBranch))

	var skipped []string
	if g.Workspace != nil {
		if err := g.Workspace.Fetch(ctx, targetBranch); err != nil {
			return errors.Wrapf(err, "failed to fetch target branch %q", targetBranch)
		}
		if err := g.Workspace.CheckoutBranch(ctx, targetBranch); err != nil {
			return errors.Wrapf(err, "failed to checkout target branch %q", targetBranch)
		}
		var err error
		skipped, err = g.Workspace.CherryPick(ctx, topicBranch, shas)
		if err != nil {
			return errors.Wrapf(err, "failed to cherry-pick onto %q", topicBranch)
		}
		if err := g.Workspace.Push(ctx, topicBranch); err != nil {
			return errors.Wrapf(err, "failed to push topic branch %q", topicBranch)
		}
	}

	description := fmt.Sprintf("%s\n\n%s", mr.Description, fmt.Sprintf(markerFormat, headSHA))
	if len(skipped) > 0 {
		description += fmt.Sprintf("\n\nThe following commits could not be cherry-picked automatically: %s", strings.Join(skipped, ", "))
	}

	created, err := g.Forge.CreateMR(ctx, projectID, forge.CreateMRRequest{
		SourceBranch: topicBranch,
		TargetBranch: targetBranch,
		Title:        fmt.Sprintf("%s (follow-up to %s)", mr.Title, targetBranch),
		Description:  description,
		Assignees:    lo.Uniq([]string{"robocat", mr.Author}),
		Draft:        draft,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create follow-up MR for %q", targetBranch)
	}

	if len(skipped) > 0 {
		_ = g.Forge.PostNote(ctx, projectID, created.ID, fmt.Sprintf(
			"Commits not cherry-picked automatically due to conflicts: %s", strings.Join(skipped, ", ")))
	}
	return nil
}

func sanitizeBranchSegment(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}

// correlationID can be used by callers wanting to trace a single
// GenerateMode invocation across forge/tracker calls in logs.
func correlationID() string {
	return uuid.NewString()
}
