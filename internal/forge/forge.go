// Package forge wraps the subset of the GitLab-class forge API the workflow
// engine needs, following the teacher's ghclient.Client/clientImpl/test-seam
// idiom (server/ghclient/client.go), rebased onto
// gitlab.com/gitlab-org/api/client-go.
package forge

import (
	"context"

	"github.com/pkg/errors"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/networkoptix/robocat/internal/model"
)

// Client is the subset of the forge API Robocat depends on (§4.C, §4.F).
type Client interface {
	GetMR(ctx context.Context, projectID, mrIID string) (model.MRSnapshot, error)
	ListCommits(ctx context.Context, projectID, mrIID string) ([]model.Commit, error)
	ListNotes(ctx context.Context, projectID, mrIID string) ([]Note, error)
	PostNote(ctx context.Context, projectID, mrIID, body string) error

	CreateDiscussion(ctx context.Context, projectID, mrIID, body string) (string, error)
	ResolveDiscussion(ctx context.Context, projectID, mrIID, discussionID string) error

	ListAssignees(ctx context.Context, projectID, mrIID string) ([]string, error)
	AddAssignees(ctx context.Context, projectID, mrIID string, identities []string) error

	ListApprovals(ctx context.Context, projectID, mrIID string) ([]model.Approval, error)

	GetPipeline(ctx context.Context, projectID, mrIID string) (model.Pipeline, error)
	TriggerManualJobs(ctx context.Context, projectID string, pipelineID int, jobNamePrefix string) error

	BranchHeadSHA(ctx context.Context, projectID, branch string) (string, error)
	Merge(ctx context.Context, projectID, mrIID, message string, squash bool) error

	CreateMR(ctx context.Context, projectID string, req CreateMRRequest) (model.MRSnapshot, error)
	ForcePushBranch(ctx context.Context, projectID, branch, ref string) error
}

// Note is a single MR comment/note, used by Component D (issue mention,
// command parsing) and Component E (discussion-ledger reconciliation).
type Note struct {
	ID     string
	Author string
	Body   string
}

// CreateMRRequest is the input to CreateMR (used by the follow-up workflow,
// Component H).
type CreateMRRequest struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Description  string
	Assignees    []string
	Draft        bool
}

// clientImpl implements Client over gitlab.com/gitlab-org/api/client-go.
type clientImpl struct {
	gl *gitlab.Client
}

// Option configures a clientImpl at construction time.
type Option func(*clientImpl)

// New builds a Client authenticated against baseURL with token.
func New(baseURL, token string, opts ...Option) (Client, error) {
	gl, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct forge client")
	}
	c := &clientImpl{gl: gl}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithGitLabClient injects an already-constructed *gitlab.Client — the
// test seam, mirroring the teacher's NewClientWithGitHub.
func NewWithGitLabClient(gl *gitlab.Client) Client {
	return &clientImpl{gl: gl}
}

func (c *clientImpl) GetMR(ctx context.Context, projectID, mrIID string) (model.MRSnapshot, error) {
	iid, err := parseIID(mrIID)
	if err != nil {
		return model.MRSnapshot{}, err
	}
	mr, _, err := c.gl.MergeRequests.GetMergeRequest(projectID, iid, nil, gitlab.WithContext(ctx))
	if err != nil {
		return model.MRSnapshot{}, errors.Wrapf(err, "failed to get MR %s/%s", projectID, mrIID)
	}
	return toSnapshot(mr), nil
}

func (c *clientImpl) ListCommits(ctx context.Context, projectID, mrIID string) ([]model.Commit, error) {
	iid, err := parseIID(mrIID)
	if err != nil {
		return nil, err
	}
	var out []model.Commit
	opts := &gitlab.GetMergeRequestCommitsOptions{PerPage: 100}
	for {
		commits, resp, err := c.gl.MergeRequests.GetMergeRequestCommits(projectID, iid, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list commits for MR %s/%s", projectID, mrIID)
		}
		for _, cm := range commits {
			out = append(out, model.Commit{
				SHA:        cm.ID,
				Message:    cm.Message,
				ParentSHAs: cm.ParentIDs,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *clientImpl) ListNotes(ctx context.Context, projectID, mrIID string) ([]Note, error) {
	iid, err := parseIID(mrIID)
	if err != nil {
		return nil, err
	}
	var out []Note
	opts := &gitlab.ListMergeRequestNotesOptions{PerPage: gitlab.Ptr(100)}
	for {
		notes, resp, err := c.gl.Notes.ListMergeRequestNotes(projectID, iid, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list notes for MR %s/%s", projectID, mrIID)
		}
		for _, n := range notes {
			author := ""
			if n.Author.Username != "" {
				author = n.Author.Username
			}
			out = append(out, Note{ID: itoa(n.ID), Author: author, Body: n.Body})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *clientImpl) PostNote(ctx context.Context, projectID, mrIID, body string) error {
	iid, err := parseIID(mrIID)
	if err != nil {
		return err
	}
	_, _, err = c.gl.Notes.CreateMergeRequestNote(projectID, iid, &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	return errors.Wrapf(err, "failed to post note on MR %s/%s", projectID, mrIID)
}

func (c *clientImpl) CreateDiscussion(ctx context.Context, projectID, mrIID, body string) (string, error) {
	iid, err := parseIID(mrIID)
	if err != nil {
		return "", err
	}
	d, _, err := c.gl.Discussions.CreateMergeRequestDiscussion(projectID, iid, &gitlab.CreateMergeRequestDiscussionOptions{
		Body: gitlab.Ptr(body),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "failed to create discussion on MR %s/%s", projectID, mrIID)
	}
	return d.ID, nil
}

func (c *clientImpl) ResolveDiscussion(ctx context.Context, projectID, mrIID, discussionID string) error {
	iid, err := parseIID(mrIID)
	if err != nil {
		return err
	}
	_, _, err = c.gl.Discussions.ResolveMergeRequestDiscussion(projectID, iid, discussionID, &gitlab.ResolveMergeRequestDiscussionOptions{
		Resolved: gitlab.Ptr(true),
	}, gitlab.WithContext(ctx))
	return errors.Wrapf(err, "failed to resolve discussion %s on MR %s/%s", discussionID, projectID, mrIID)
}

func (c *clientImpl) ListAssignees(ctx context.Context, projectID, mrIID string) ([]string, error) {
	snap, err := c.GetMR(ctx, projectID, mrIID)
	if err != nil {
		return nil, err
	}
	return snap.Assignees, nil
}

func (c *clientImpl) AddAssignees(ctx context.Context, projectID, mrIID string, identities []string) error {
	iid, err := parseIID(mrIID)
	if err != nil {
		return err
	}
	existing, err := c.ListAssignees(ctx, projectID, mrIID)
	if err != nil {
		return err
	}
	union := unionStrings(existing, identities)
	ids, err := c.resolveUserIDs(ctx, union)
	if err != nil {
		return err
	}
	_, _, err = c.gl.MergeRequests.UpdateMergeRequest(projectID, iid, &gitlab.UpdateMergeRequestOptions{
		AssigneeIDs: &ids,
	}, gitlab.WithContext(ctx))
	return errors.Wrapf(err, "failed to add assignees to MR %s/%s", projectID, mrIID)
}

func (c *clientImpl) resolveUserIDs(ctx context.Context, usernames []string) ([]int, error) {
	ids := make([]int, 0, len(usernames))
	for _, u := range usernames {
		users, _, err := c.gl.Users.ListUsers(&gitlab.ListUsersOptions{Username: gitlab.Ptr(u)}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve user %q", u)
		}
		if len(users) == 0 {
			continue
		}
		ids = append(ids, users[0].ID)
	}
	return ids, nil
}

func (c *clientImpl) ListApprovals(ctx context.Context, projectID, mrIID string) ([]model.Approval, error) {
	iid, err := parseIID(mrIID)
	if err != nil {
		return nil, err
	}
	approvals, _, err := c.gl.MergeRequestApprovals.GetApprovalState(projectID, iid, gitlab.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get approvals for MR %s/%s", projectID, mrIID)
	}
	var out []model.Approval
	for _, rule := range approvals.Rules {
		for _, u := range rule.ApprovedBy {
			out = append(out, model.Approval{Approver: u.Username})
		}
	}
	return out, nil
}

func (c *clientImpl) GetPipeline(ctx context.Context, projectID, mrIID string) (model.Pipeline, error) {
	snap, err := c.GetMR(ctx, projectID, mrIID)
	if err != nil {
		return model.Pipeline{}, err
	}
	return snap.Pipeline, nil
}

func (c *clientImpl) TriggerManualJobs(ctx context.Context, projectID string, pipelineID int, jobNamePrefix string) error {
	jobs, _, err := c.gl.Jobs.ListPipelineJobs(projectID, pipelineID, &gitlab.ListJobsOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "failed to list jobs for pipeline %d", pipelineID)
	}
	for _, j := range jobs {
		if j.Status != "manual" {
			continue
		}
		if jobNamePrefix != "" && !hasPrefix(j.Name, jobNamePrefix) {
			continue
		}
		if _, _, err := c.gl.Jobs.PlayJob(projectID, j.ID, nil, gitlab.WithContext(ctx)); err != nil {
			return errors.Wrapf(err, "failed to start manual job %q", j.Name)
		}
	}
	return nil
}

func (c *clientImpl) BranchHeadSHA(ctx context.Context, projectID, branch string) (string, error) {
	b, _, err := c.gl.Branches.GetBranch(projectID, branch, gitlab.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "failed to get branch %q head", branch)
	}
	return b.Commit.ID, nil
}

func (c *clientImpl) Merge(ctx context.Context, projectID, mrIID, message string, squash bool) error {
	iid, err := parseIID(mrIID)
	if err != nil {
		return err
	}
	_, _, err = c.gl.MergeRequests.AcceptMergeRequest(projectID, iid, &gitlab.AcceptMergeRequestOptions{
		MergeCommitMessage: gitlab.Ptr(message),
		Squash:             gitlab.Ptr(squash),
	}, gitlab.WithContext(ctx))
	return errors.Wrapf(err, "failed to merge MR %s/%s", projectID, mrIID)
}

func (c *clientImpl) CreateMR(ctx context.Context, projectID string, req CreateMRRequest) (model.MRSnapshot, error) {
	mr, _, err := c.gl.MergeRequests.CreateMergeRequest(projectID, &gitlab.CreateMergeRequestOptions{
		SourceBranch: gitlab.Ptr(req.SourceBranch),
		TargetBranch: gitlab.Ptr(req.TargetBranch),
		Title:        gitlab.Ptr(titleWithDraft(req.Title, req.Draft)),
		Description:  gitlab.Ptr(req.Description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return model.MRSnapshot{}, errors.Wrapf(err, "failed to create follow-up MR from %s to %s", req.SourceBranch, req.TargetBranch)
	}
	snap := toSnapshot(mr)
	if len(req.Assignees) > 0 {
		if err := c.AddAssignees(ctx, projectID, itoa(mr.IID), req.Assignees); err != nil {
			return snap, err
		}
	}
	return snap, nil
}

func (c *clientImpl) ForcePushBranch(ctx context.Context, projectID, branch, ref string) error {
	// Intentionally not implemented via the forge API: GitLab has no
	// force-push-by-ref REST endpoint. Mutation of branch content goes
	// through gitworkspace, which pushes with the real git binary.
	return errors.New("ForcePushBranch is not supported via the forge API; use gitworkspace")
}
