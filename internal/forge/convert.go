package forge

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/networkoptix/robocat/internal/model"
)

func parseIID(mrIID string) (int, error) {
	iid, err := strconv.Atoi(mrIID)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid MR iid %q", mrIID)
	}
	return iid, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

func unionStrings(a, b []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func titleWithDraft(title string, draft bool) string {
	if draft && !strings.HasPrefix(title, "Draft:") {
		return "Draft: " + title
	}
	return title
}

func toSnapshot(mr *gitlab.MergeRequest) model.MRSnapshot {
	assignees := make([]string, 0, len(mr.Assignees))
	for _, a := range mr.Assignees {
		assignees = append(assignees, a.Username)
	}

	mergeability := model.MergeabilityUnknown
	switch mr.DetailedMergeStatus {
	case "mergeable":
		mergeability = model.MergeabilityMergeable
	case "conflict":
		mergeability = model.MergeabilityConflicts
	}

	var pipeline model.Pipeline
	if mr.Pipeline != nil {
		pipeline = model.Pipeline{
			ID:      itoa(mr.Pipeline.ID),
			Status:  toPipelineStatus(mr.Pipeline.Status),
			HeadSHA: mr.SHA,
		}
	}

	return model.MRSnapshot{
		ID:           itoa(mr.IID),
		Title:        mr.Title,
		Description:  mr.Description,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		Author:       mr.Author.Username,
		Squash:       mr.Squash,
		Draft:        mr.Draft,
		Merged:       mr.State == "merged",
		Mergeability: mergeability,
		Pipeline:     pipeline,
		Assignees:    assignees,
	}
}

func toPipelineStatus(status string) model.PipelineStatus {
	switch status {
	case "running", "pending", "created":
		return model.PipelineRunning
	case "success":
		return model.PipelineSuccess
	case "failed":
		return model.PipelineFailed
	case "canceled", "skipped":
		return model.PipelineCanceled
	case "manual":
		return model.PipelineManualPending
	default:
		return model.PipelineNone
	}
}
