package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/tracker"
)

func testConfig() *config.Config {
	return &config.Config{SupportedProjects: []string{"VMS"}}
}

func TestProject_ExtractsReferencedIssuesFromTitleDescriptionAndCommits(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{
		ID:          "1",
		Title:       "VMS-100: fix thing",
		Description: "relates to VMS-200",
		Commits: []model.Commit{
			{SHA: "a", Message: "VMS-300 partial fix"},
			{SHA: "b", Message: "VMS-100 follow-up"}, // duplicate key, deduped
		},
	}
	tr := tracker.NewFake()
	tr.Issues["VMS-100"] = model.IssueSnapshot{Key: "VMS-100", Project: "VMS"}
	tr.Issues["VMS-200"] = model.IssueSnapshot{Key: "VMS-200", Project: "VMS"}
	tr.Issues["VMS-300"] = model.IssueSnapshot{Key: "VMS-300", Project: "VMS"}

	p := New(f, tr, testConfig())
	result, err := p.Project(context.Background(), "proj", "1")
	require.NoError(t, err)

	assert.Len(t, result.MR.ReferencedRefs, 3)
	assert.Len(t, result.Issues, 3)
	assert.True(t, result.Issues["VMS-100"].IsSupported)
}

func TestProject_UnsupportedProjectIsMarked(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1", Title: "OTHER-1: unrelated"}
	tr := tracker.NewFake()
	tr.Issues["OTHER-1"] = model.IssueSnapshot{Key: "OTHER-1", Project: "OTHER"}

	p := New(f, tr, testConfig())
	result, err := p.Project(context.Background(), "proj", "1")
	require.NoError(t, err)

	assert.False(t, result.Issues["OTHER-1"].IsSupported)
}

func TestProject_MarksMRAsFollowUpWhenDescriptionCarriesTheCherryPickMarker(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{
		ID:          "1",
		Title:       "fix thing (follow-up to release/5.1)",
		Description: "original description\n\n(cherry-picked from commit abc123def)",
	}
	tr := tracker.NewFake()

	p := New(f, tr, testConfig())
	result, err := p.Project(context.Background(), "proj", "1")
	require.NoError(t, err)

	assert.True(t, result.MR.IsFollowUp)
}

func TestProject_OrdinaryMRIsNotMarkedAsFollowUp(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1", Title: "fix thing", Description: "no marker here"}
	tr := tracker.NewFake()

	p := New(f, tr, testConfig())
	result, err := p.Project(context.Background(), "proj", "1")
	require.NoError(t, err)

	assert.False(t, result.MR.IsFollowUp)
}

func TestProject_DiscussionLedgerFromFingerprintedNotes(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1"}
	_, err := f.CreateDiscussion(context.Background(), "proj", "1",
		"Missing approval.\n<!-- robocat:fingerprint=approval:alice -->")
	require.NoError(t, err)

	tr := tracker.NewFake()
	p := New(f, tr, testConfig())
	result, err := p.Project(context.Background(), "proj", "1")
	require.NoError(t, err)

	ref, ok := result.MR.OpenDiscussions["approval:alice"]
	require.True(t, ok)
	assert.NotEmpty(t, ref.DiscussionID)
}

func TestProject_PropagatesForgeErrors(t *testing.T) {
	f := forge.NewFake() // no MR registered
	tr := tracker.NewFake()
	p := New(f, tr, testConfig())

	_, err := p.Project(context.Background(), "proj", "missing")
	assert.Error(t, err)
}
