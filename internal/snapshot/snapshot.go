// Package snapshot implements Component C (§4.C): a pure projection from
// (mr_id, config) to an model.MRSnapshot, fetched fresh from the forge,
// tracker and git workspace on every evaluation cycle — Robocat keeps no
// cross-cycle cache of forge/tracker state (§3: "no persisted mirror").
//
// Grounded on server/poller.go's pollSingleAgent: re-fetch everything needed
// for one decision, then hand the result to the next stage; the difference
// here is the projector composes three backends into one snapshot instead
// of reading one agent record.
package snapshot

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/tracker"
)

// issueKeyPattern matches tracker issue keys like "VMS-12345" mentioned in
// MR titles, descriptions and commit messages (§3: "issues mentioned").
var issueKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+)-(\d+)\b`)

// followUpMarkerPattern recognizes internal/followup's provenance marker
// ("(cherry-picked from commit <sha>)") in an MR description, the only
// signal the projector has for IsFollowUp (§3: "is-follow-up flag ...
// derived from ... 'cherry-picked from' phrase").
var followUpMarkerPattern = regexp.MustCompile(`\(cherry-picked from commit [0-9a-fA-F]+\)`)

// Projector builds a fresh MRSnapshot plus the IssueSnapshots of every issue
// it references, for one evaluation cycle.
type Projector struct {
	Forge   forge.Client
	Tracker tracker.Client
	Cfg     *config.Config
}

// New builds a Projector over the given backends.
func New(f forge.Client, tr tracker.Client, cfg *config.Config) *Projector {
	return &Projector{Forge: f, Tracker: tr, Cfg: cfg}
}

// Result bundles the MR snapshot with the snapshots of every tracker issue
// it references, memoized for the lifetime of a single cycle (§4.C:
// "memoized within a cycle, never cached across cycles").
type Result struct {
	MR     model.MRSnapshot
	Issues map[string]model.IssueSnapshot // keyed by issue key
}

// Project builds the Result for mrID. Errors from the forge/tracker are
// returned unwrapped-of-transience; callers (the engine) decide whether an
// error is retryable based on the underlying error, per §4.C.
func (p *Projector) Project(ctx context.Context, projectID, mrID string) (Result, error) {
	mr, err := p.Forge.GetMR(ctx, projectID, mrID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to fetch MR %s/%s", projectID, mrID)
	}

	commits, err := p.Forge.ListCommits(ctx, projectID, mrID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to fetch commits for MR %s/%s", projectID, mrID)
	}
	mr.Commits = commits

	pipeline, err := p.Forge.GetPipeline(ctx, projectID, mrID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to fetch pipeline for MR %s/%s", projectID, mrID)
	}
	mr.Pipeline = pipeline

	approvals, err := p.Forge.ListApprovals(ctx, projectID, mrID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to fetch approvals for MR %s/%s", projectID, mrID)
	}
	mr.Approvals = approvals

	notes, err := p.Forge.ListNotes(ctx, projectID, mrID)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to fetch notes for MR %s/%s", projectID, mrID)
	}
	mr.OpenDiscussions = discussionLedgerFromNotes(notes)

	mr.ReferencedRefs = referencedIssues(mr)
	mr.IsFollowUp = followUpMarkerPattern.MatchString(mr.Description)

	issues := map[string]model.IssueSnapshot{}
	for _, ref := range mr.ReferencedRefs {
		if _, ok := issues[ref.Key]; ok {
			continue
		}
		issueSnap, err := p.Tracker.GetIssue(ctx, ref.Key)
		if err != nil {
			return Result{}, errors.Wrapf(err, "failed to fetch issue %q referenced by MR %s/%s", ref.Key, projectID, mrID)
		}
		issueSnap.IsSupported = p.Cfg.IsSupportedProject(issueSnap.Project)
		issues[ref.Key] = issueSnap
	}

	return Result{MR: mr, Issues: issues}, nil
}

// referencedIssues extracts distinct issue keys mentioned in the MR title,
// description and every commit message.
func referencedIssues(mr model.MRSnapshot) []model.IssueRef {
	seen := map[string]struct{}{}
	var out []model.IssueRef

	add := func(text string) {
		for _, m := range issueKeyPattern.FindAllStringSubmatch(text, -1) {
			key := m[1] + "-" + m[2]
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.IssueRef{Key: key, Project: m[1]})
		}
	}

	add(mr.Title)
	add(mr.Description)
	for _, c := range mr.Commits {
		add(c.Message)
	}
	return out
}

// discussionLedgerFromNotes derives the logically-owned discussion ledger
// from bot-authored notes, keyed by the fingerprint embedded in each note's
// body (§3: "the Discussion Ledger is derived, not persisted"). Bot notes
// are expected to carry a trailing "<!-- robocat:fingerprint=<fp> -->"
// marker; see internal/planner for where it is written.
func discussionLedgerFromNotes(notes []forge.Note) map[string]model.DiscussionRef {
	const marker = "<!-- robocat:fingerprint="
	ledger := map[string]model.DiscussionRef{}
	for _, n := range notes {
		if n.Author != "robocat" {
			continue
		}
		idx := strings.Index(n.Body, marker)
		if idx < 0 {
			continue
		}
		rest := n.Body[idx+len(marker):]
		end := strings.Index(rest, "-->")
		if end < 0 {
			continue
		}
		fp := strings.TrimSpace(rest[:end])
		ledger[fp] = model.DiscussionRef{DiscussionID: n.ID}
	}
	return ledger
}
