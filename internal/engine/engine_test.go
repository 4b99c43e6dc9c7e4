package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/compliance"
	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/planner"
	"github.com/networkoptix/robocat/internal/rules"
	"github.com/networkoptix/robocat/internal/tracker"
)

func testConfig() *config.Config {
	return &config.Config{
		BotHandle:         "robocat",
		SupportedProjects: []string{"PROJ"},
	}
}

func newTestEngine(f *forge.Fake, tr *tracker.Fake) *Engine {
	checkers := compliance.New(context.Background(), "", &compliance.FakeOpenSourceChecker{}, &compliance.FakeSubmoduleChecker{})
	return New("proj", testConfig(), logging.New("ERROR"), f, tr, nil, rules.Default(checkers))
}

func TestEvaluate_MRWithReferencedIssueCompletes(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{
		ID:           "1",
		Title:        "PROJ-1: fix bug",
		Description:  "details",
		Mergeability: model.MergeabilityUnknown,
		Pipeline:     model.Pipeline{Status: model.PipelineNone},
	}
	tr := tracker.NewFake()
	tr.Issues["PROJ-1"] = model.IssueSnapshot{Key: "PROJ-1", Project: "PROJ", Status: "In Progress"}

	e := newTestEngine(f, tr)
	outcome := e.Evaluate(context.Background(), "1")
	assert.True(t, outcome.Completed())
}

func TestEvaluate_RunPipelineCommandIsConsumedOnDraftMR(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{
		ID: "1", Title: "Quick fix", Draft: true,
		Pipeline: model.Pipeline{Status: model.PipelineSuccess, HeadSHA: "a"},
	}
	f.Notes["proj/1"] = []forge.Note{{ID: "100", Author: "alice", Body: "@robocat run-pipeline"}}
	tr := tracker.NewFake()

	e := newTestEngine(f, tr)
	outcome := e.Evaluate(context.Background(), "1")
	require.True(t, outcome.Completed())

	// The run-pipeline note is consumed as a command on the draft MR (§4.I,
	// S5); the forced trigger itself is covered by the planner tests.
	state := e.stateFor("1")
	state.mu.Lock()
	_, seen := state.processedNoteIDs["100"]
	state.mu.Unlock()
	assert.True(t, seen)
}

func TestEvaluate_CommandsAreNotReprocessedOnSubsequentCycles(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1", Title: "Quick fix"}
	f.Notes["proj/1"] = []forge.Note{{ID: "100", Author: "alice", Body: "@robocat draft-follow-up"}}
	tr := tracker.NewFake()

	e := newTestEngine(f, tr)
	e.Evaluate(context.Background(), "1")

	state := e.stateFor("1")
	state.mu.Lock()
	mode := state.followUpMode
	_, seen := state.processedNoteIDs["100"]
	state.mu.Unlock()

	assert.Equal(t, planner.FollowUpDraft, mode)
	assert.True(t, seen)

	// Second cycle: the same note must not flip anything again (idempotent).
	e.Evaluate(context.Background(), "1")
	state.mu.Lock()
	modeAfter := state.followUpMode
	state.mu.Unlock()
	assert.Equal(t, mode, modeAfter)
}

func TestEvaluate_BotsOwnNotesAreNeverParsedAsCommands(t *testing.T) {
	f := forge.NewFake()
	f.MRs["proj/1"] = model.MRSnapshot{ID: "1", Title: "Quick fix"}
	f.Notes["proj/1"] = []forge.Note{{ID: "1", Author: "robocat", Body: "@robocat run-pipeline"}}
	tr := tracker.NewFake()

	e := newTestEngine(f, tr)
	outcome := e.Evaluate(context.Background(), "1")
	assert.True(t, outcome.Completed())

	state := e.stateFor("1")
	state.mu.Lock()
	_, seen := state.processedNoteIDs["1"]
	state.mu.Unlock()
	assert.False(t, seen)
}
