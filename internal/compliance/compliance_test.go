package compliance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOpenSource_NoOpenSourceFilesTouched(t *testing.T) {
	c := New(context.Background(), "/repo", &FakeOpenSourceChecker{}, &FakeSubmoduleChecker{})
	violations, newFiles, err := c.CheckOpenSource([]string{"server/foo.cpp"})
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Empty(t, newFiles)
}

func TestCheckOpenSource_CleanNewFile(t *testing.T) {
	c := New(context.Background(), "/repo", &FakeOpenSourceChecker{}, &FakeSubmoduleChecker{})
	violations, newFiles, err := c.CheckOpenSource([]string{"open/server/foo.cpp"})
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, []string{"open/server/foo.cpp"}, newFiles)
}

func TestCheckOpenSource_ViolatingFile(t *testing.T) {
	checker := &FakeOpenSourceChecker{ViolationsByFile: map[string][]Violation{
		"open/client/bar.h": {{File: "open/client/bar.h", Line: 10, RuleID: "forbidden-term", Message: "forbidden term found"}},
	}}
	c := New(context.Background(), "/repo", checker, &FakeSubmoduleChecker{})
	violations, newFiles, err := c.CheckOpenSource([]string{"open/client/bar.h"})
	require.NoError(t, err)
	assert.Len(t, violations, 1)
	assert.Empty(t, newFiles)
}

func TestCheckSubmodule_Inconsistent(t *testing.T) {
	c := New(context.Background(), "/repo", &FakeOpenSourceChecker{}, &FakeSubmoduleChecker{
		InconsistentDirs: map[string]string{"nx_open": "submodule pointer mismatch"},
	})
	consistent, details, err := c.CheckSubmodule("nx_open")
	require.NoError(t, err)
	assert.False(t, consistent)
	assert.Equal(t, "submodule pointer mismatch", details)
}

func TestIsFileOpenSourced(t *testing.T) {
	assert.True(t, IsFileOpenSourced("open/server/foo.cpp"))
	assert.False(t, IsFileOpenSourced("server/foo.cpp"))
}

func TestMatchNamePattern(t *testing.T) {
	assert.True(t, MatchNamePattern("apidoc/thing.apidoc", []string{"apidoc/*"}))
	assert.False(t, MatchNamePattern("server/thing.cpp", []string{"apidoc/*"}))
}
