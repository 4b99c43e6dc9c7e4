package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/model"
)

func TestFake_TransitionUpdatesStatusAndHistory(t *testing.T) {
	f := NewFake()
	f.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1", Status: "In Review"}

	require.NoError(t, f.TransitionIssue(context.Background(), "PROJ-1", "Waiting for QA"))

	snap, err := f.GetIssue(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Equal(t, "Waiting for QA", snap.Status)
	assert.Equal(t, []string{"Waiting for QA"}, f.Transitions["PROJ-1"])
}

func TestFake_PostCommentAccumulates(t *testing.T) {
	f := NewFake()
	f.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1"}

	require.NoError(t, f.PostComment(context.Background(), "PROJ-1", "hello"))
	require.NoError(t, f.PostComment(context.Background(), "PROJ-1", "world"))

	assert.Equal(t, []string{"hello", "world"}, f.Comments["PROJ-1"])
}

func TestFake_GetIssueUnknownKey(t *testing.T) {
	f := NewFake()
	_, err := f.GetIssue(context.Background(), "MISSING-1")
	assert.Error(t, err)
}
