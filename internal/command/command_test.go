package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_RecognizesEachKnownVerb(t *testing.T) {
	cases := []struct {
		body string
		verb Verb
		args []string
	}{
		{"@robocat process", VerbProcess, nil},
		{"@robocat run-pipeline", VerbRunPipeline, nil},
		{"@robocat follow-up", VerbFollowUp, nil},
		{"@robocat draft-follow-up", VerbDraftFollowUp, nil},
		{"@robocat run-pipeline force", VerbRunPipeline, []string{"force"}},
	}
	for _, tc := range cases {
		cmd, ok := Parse("robocat", tc.body)
		require := assert.New(t)
		require.True(ok, tc.body)
		require.Equal(tc.verb, cmd.Verb)
		require.Equal(tc.args, cmd.Args)
	}
}

func TestParse_IgnoresUnknownVerbsSilently(t *testing.T) {
	_, ok := Parse("robocat", "@robocat do-a-barrel-roll")
	assert.False(t, ok)
}

func TestParse_IgnoresPlainComments(t *testing.T) {
	_, ok := Parse("robocat", "looks good to me")
	assert.False(t, ok)
}

func TestParse_IgnoresMentionsOfOtherUsers(t *testing.T) {
	_, ok := Parse("robocat", "@alice process this please")
	assert.False(t, ok)
}

func TestParse_OnlyReadsFirstLine(t *testing.T) {
	cmd, ok := Parse("robocat", "@robocat process\nsome more discussion below")
	assert := assert.New(t)
	assert.True(ok)
	assert.Equal(VerbProcess, cmd.Verb)
}

func TestParse_HandleSubstringDoesNotFalsePositive(t *testing.T) {
	_, ok := Parse("robocat", "@robocat-ci process")
	assert.False(t, ok)
}
