// Package tracker wraps the subset of the Jira-class issue tracker API the
// workflow engine needs, following the same Client/clientImpl/test-seam
// idiom as internal/forge, rebased onto github.com/andygrunwald/go-jira.
package tracker

import (
	"context"

	jira "github.com/andygrunwald/go-jira"
	"github.com/pkg/errors"

	"github.com/networkoptix/robocat/internal/model"
)

// ErrTransitionNotAvailable is returned by TransitionIssue when the named
// transition isn't among the issue's currently available transitions,
// letting callers (the executor) retry with a fallback transition per
// §4.E.6.
var ErrTransitionNotAvailable = errors.New("transition not available")

// Client is the subset of the tracker API Robocat depends on (§4.C, §4.E).
type Client interface {
	GetIssue(ctx context.Context, key string) (model.IssueSnapshot, error)
	TransitionIssue(ctx context.Context, key, transitionName string) error
	PostComment(ctx context.Context, key, body string) error
}

type clientImpl struct {
	jc *jira.Client
}

// Option configures a clientImpl at construction time.
type Option func(*clientImpl)

// New builds a Client authenticated against baseURL with basic auth
// credentials, following §6's jira.url/login/password configuration.
func New(baseURL, login, password string, opts ...Option) (Client, error) {
	tp := jira.BasicAuthTransport{Username: login, Password: password}
	jc, err := jira.NewClient(tp.Client(), baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to construct tracker client")
	}
	c := &clientImpl{jc: jc}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithJiraClient injects an already-constructed *jira.Client — the test
// seam, mirroring internal/forge's NewWithGitLabClient.
func NewWithJiraClient(jc *jira.Client) Client {
	return &clientImpl{jc: jc}
}

func (c *clientImpl) GetIssue(ctx context.Context, key string) (model.IssueSnapshot, error) {
	issue, _, err := c.jc.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		return model.IssueSnapshot{}, errors.Wrapf(err, "failed to get issue %q", key)
	}
	return toSnapshot(issue), nil
}

func (c *clientImpl) TransitionIssue(ctx context.Context, key, transitionName string) error {
	transitions, _, err := c.jc.Issue.GetTransitionsWithContext(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "failed to list transitions for issue %q", key)
	}
	for _, t := range transitions {
		if t.Name == transitionName {
			_, err := c.jc.Issue.DoTransitionWithContext(ctx, key, t.ID)
			return errors.Wrapf(err, "failed to transition issue %q to %q", key, transitionName)
		}
	}
	return errors.Wrapf(ErrTransitionNotAvailable, "issue %q has no %q transition available", key, transitionName)
}

func (c *clientImpl) PostComment(ctx context.Context, key, body string) error {
	_, _, err := c.jc.Issue.AddCommentWithContext(ctx, key, &jira.Comment{Body: body})
	return errors.Wrapf(err, "failed to post comment on issue %q", key)
}

func toSnapshot(issue *jira.Issue) model.IssueSnapshot {
	if issue == nil || issue.Fields == nil {
		return model.IssueSnapshot{}
	}
	snap := model.IssueSnapshot{
		Key:    issue.Key,
		Status: issue.Fields.Status.Name,
	}
	if issue.Fields.Project.Key != "" {
		snap.Project = issue.Fields.Project.Key
	}
	if issue.Fields.Assignee != nil {
		snap.Assignee = issue.Fields.Assignee.Name
	}
	for _, v := range issue.Fields.FixVersions {
		if v == nil {
			continue
		}
		snap.FixVersions = append(snap.FixVersions, model.FixVersion{Version: v.Name})
	}
	return snap
}
