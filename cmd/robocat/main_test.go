package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackedMRSet_SnapshotDeduplicatesRepeatedAdds(t *testing.T) {
	set := newTrackedMRSet()
	set.add("1")
	set.add("2")
	set.add("1")

	got := set.snapshot()
	assert.ElementsMatch(t, []string{"1", "2"}, got)
}

func TestTrackedMRSet_SnapshotOfEmptySetIsEmpty(t *testing.T) {
	set := newTrackedMRSet()
	assert.Empty(t, set.snapshot())
}

func TestNewRootCmd_RegistersServeSubcommand(t *testing.T) {
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	assert.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
}
