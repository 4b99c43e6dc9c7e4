package forge

import (
	"context"
	"fmt"
	"sync"

	"github.com/networkoptix/robocat/internal/model"
)

// Fake is a hand-built, in-memory Client implementation for tests —
// mirroring the teacher's test-seam pattern of constructing a real client
// over a local substitute rather than a generated mock.
type Fake struct {
	mu sync.Mutex

	MRs         map[string]model.MRSnapshot // key: projectID+"/"+mrIID
	Notes       map[string][]Note
	Discussions map[string]map[string]bool // key -> discussionID -> resolved
	Approvals   map[string][]model.Approval
	BranchSHAs  map[string]string // key: projectID+"/"+branch
	Merged      map[string]bool
	Created     []CreateMRRequest

	nextDiscussionID int
}

// NewFake builds an empty Fake ready for test setup.
func NewFake() *Fake {
	return &Fake{
		MRs:         map[string]model.MRSnapshot{},
		Notes:       map[string][]Note{},
		Discussions: map[string]map[string]bool{},
		Approvals:   map[string][]model.Approval{},
		BranchSHAs:  map[string]string{},
		Merged:      map[string]bool{},
	}
}

func key(projectID, mrIID string) string { return projectID + "/" + mrIID }

func (f *Fake) GetMR(ctx context.Context, projectID, mrIID string) (model.MRSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.MRs[key(projectID, mrIID)]
	if !ok {
		return model.MRSnapshot{}, fmt.Errorf("no such MR %s/%s", projectID, mrIID)
	}
	return snap, nil
}

func (f *Fake) ListCommits(ctx context.Context, projectID, mrIID string) ([]model.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MRs[key(projectID, mrIID)].Commits, nil
}

func (f *Fake) ListNotes(ctx context.Context, projectID, mrIID string) ([]Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Notes[key(projectID, mrIID)], nil
}

func (f *Fake) PostNote(ctx context.Context, projectID, mrIID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(projectID, mrIID)
	f.Notes[k] = append(f.Notes[k], Note{ID: fmt.Sprintf("note-%d", len(f.Notes[k])+1), Author: "robocat", Body: body})
	return nil
}

func (f *Fake) CreateDiscussion(ctx context.Context, projectID, mrIID, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(projectID, mrIID)
	f.nextDiscussionID++
	id := fmt.Sprintf("discussion-%d", f.nextDiscussionID)
	if f.Discussions[k] == nil {
		f.Discussions[k] = map[string]bool{}
	}
	f.Discussions[k][id] = false
	f.Notes[k] = append(f.Notes[k], Note{ID: id, Author: "robocat", Body: body})
	return id, nil
}

func (f *Fake) ResolveDiscussion(ctx context.Context, projectID, mrIID, discussionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(projectID, mrIID)
	if f.Discussions[k] == nil {
		return fmt.Errorf("no discussions on MR %s/%s", projectID, mrIID)
	}
	f.Discussions[k][discussionID] = true
	return nil
}

func (f *Fake) ListAssignees(ctx context.Context, projectID, mrIID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MRs[key(projectID, mrIID)].Assignees, nil
}

func (f *Fake) AddAssignees(ctx context.Context, projectID, mrIID string, identities []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(projectID, mrIID)
	snap := f.MRs[k]
	snap.Assignees = unionStrings(snap.Assignees, identities)
	f.MRs[k] = snap
	return nil
}

func (f *Fake) ListApprovals(ctx context.Context, projectID, mrIID string) ([]model.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Approvals[key(projectID, mrIID)], nil
}

func (f *Fake) GetPipeline(ctx context.Context, projectID, mrIID string) (model.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MRs[key(projectID, mrIID)].Pipeline, nil
}

func (f *Fake) TriggerManualJobs(ctx context.Context, projectID string, pipelineID int, jobNamePrefix string) error {
	return nil
}

func (f *Fake) BranchHeadSHA(ctx context.Context, projectID, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.BranchSHAs[key(projectID, branch)]
	if !ok {
		return "", fmt.Errorf("no such branch %s/%s", projectID, branch)
	}
	return sha, nil
}

func (f *Fake) Merge(ctx context.Context, projectID, mrIID, message string, squash bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Merged[key(projectID, mrIID)] = true
	return nil
}

func (f *Fake) CreateMR(ctx context.Context, projectID string, req CreateMRRequest) (model.MRSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, req)
	snap := model.MRSnapshot{
		ID:           fmt.Sprintf("followup-%d", len(f.Created)),
		Title:        titleWithDraft(req.Title, req.Draft),
		Description:  req.Description,
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		Draft:        req.Draft,
		Assignees:    req.Assignees,
	}
	f.MRs[key(projectID, snap.ID)] = snap
	return snap, nil
}

func (f *Fake) ForcePushBranch(ctx context.Context, projectID, branch, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BranchSHAs[key(projectID, branch)] = ref
	return nil
}
