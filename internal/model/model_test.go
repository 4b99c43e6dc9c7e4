package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycleOutcome_CompletedReportsOnlyCompleted(t *testing.T) {
	o := Completed()
	assert.True(t, o.Completed())
	assert.False(t, o.Deferred())
	assert.False(t, o.Failed())
}

func TestCycleOutcome_DeferredCarriesReason(t *testing.T) {
	o := Deferred("forge rate limited")
	assert.True(t, o.Deferred())
	assert.Equal(t, "forge rate limited", o.Reason)
}

func TestCycleOutcome_FailedCarriesError(t *testing.T) {
	err := errors.New("boom")
	o := Failed(err)
	assert.True(t, o.Failed())
	assert.Equal(t, err, o.Err)
}
