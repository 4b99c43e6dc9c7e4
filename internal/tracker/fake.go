package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/networkoptix/robocat/internal/model"
)

// Fake is a hand-built, in-memory Client for tests.
type Fake struct {
	mu sync.Mutex

	Issues      map[string]model.IssueSnapshot
	Comments    map[string][]string
	Transitions map[string][]string // key -> ordered transition names applied

	// UnavailableTransitions, when set, makes TransitionIssue fail with
	// ErrTransitionNotAvailable for the named transitions, simulating an
	// issue whose workflow doesn't offer them — used to exercise the
	// executor's §4.E.6 fallback-transition retry.
	UnavailableTransitions map[string]bool
}

// NewFake builds an empty Fake ready for test setup.
func NewFake() *Fake {
	return &Fake{
		Issues:      map[string]model.IssueSnapshot{},
		Comments:    map[string][]string{},
		Transitions: map[string][]string{},
	}
}

func (f *Fake) GetIssue(ctx context.Context, key string) (model.IssueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.Issues[key]
	if !ok {
		return model.IssueSnapshot{}, fmt.Errorf("no such issue %q", key)
	}
	return snap, nil
}

func (f *Fake) TransitionIssue(ctx context.Context, key, transitionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.Issues[key]
	if !ok {
		return fmt.Errorf("no such issue %q", key)
	}
	if f.UnavailableTransitions[transitionName] {
		return errors.Wrapf(ErrTransitionNotAvailable, "issue %q has no %q transition available", key, transitionName)
	}
	snap.Status = transitionName
	f.Issues[key] = snap
	f.Transitions[key] = append(f.Transitions[key], transitionName)
	return nil
}

func (f *Fake) PostComment(ctx context.Context, key, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments[key] = append(f.Comments[key], body)
	return nil
}
