package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkoptix/robocat/internal/compliance"
	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/snapshot"
)

func findingsFor(t *testing.T, category model.Category, findings []model.Finding) []model.Finding {
	t.Helper()
	var out []model.Finding
	for _, f := range findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func hasSeverity(findings []model.Finding, sev model.Severity) bool {
	for _, f := range findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

func baseCheckers() *compliance.Checkers {
	return compliance.New(context.Background(), "/repo", &compliance.FakeOpenSourceChecker{}, &compliance.FakeSubmoduleChecker{})
}

func TestPipeline_HappyPathSquash(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:          "1",
			Title:       "PROJ-1: fix X",
			Description: "details",
			Squash:      true,
			Commits:     []model.Commit{{SHA: "a", Message: "PROJ-1: fix X\n\ndetails"}},
			Approvals:   []model.Approval{{Approver: "alice"}},
			Pipeline:    model.Pipeline{Status: model.PipelineSuccess, HeadSHA: "a"},
			Mergeability: model.MergeabilityMergeable,
			ReferencedRefs: []model.IssueRef{{Key: "PROJ-1", Project: "PROJ"}},
		},
		Issues: map[string]model.IssueSnapshot{
			"PROJ-1": {Key: "PROJ-1", Project: "PROJ", Status: "In Review", IsSupported: true,
				FixVersions: []model.FixVersion{{Version: "v1", Branch: "master"}}},
		},
	}
	cfg := &config.Config{}
	p := Default(baseCheckers())
	findings := p.Evaluate(result, cfg)

	mergeReadiness := findingsFor(t, model.CategoryMergeReadiness, findings)
	require.Len(t, mergeReadiness, 1)
	assert.Equal(t, model.SeverityPass, mergeReadiness[0].Severity)
	assert.False(t, hasSeverity(findings, model.SeverityBlock))
}

func TestPipeline_TitleFormatViolation(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:     "1",
			Title:  "fix X without issue prefix",
			Squash: true,
			ReferencedRefs: []model.IssueRef{{Key: "PROJ-1", Project: "PROJ"}},
		},
		Issues: map[string]model.IssueSnapshot{
			"PROJ-1": {Key: "PROJ-1", IsSupported: true, FixVersions: []model.FixVersion{{Version: "v1", Branch: "master"}}},
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	titleFindings := findingsFor(t, model.CategoryCommitConvention, findings)
	require.NotEmpty(t, titleFindings)
	assert.Equal(t, model.SeverityBlock, titleFindings[0].Severity)
}

func TestPipeline_NoReferencedIssueBlocks(t *testing.T) {
	result := snapshot.Result{MR: model.MRSnapshot{ID: "1"}}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	workflowFindings := findingsFor(t, model.CategoryWorkflow, findings)
	require.NotEmpty(t, workflowFindings)
	assert.Equal(t, model.SeverityBlock, workflowFindings[0].Severity)
}

func TestPipeline_FixVersionEmptyBlocks(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{ID: "1", ReferencedRefs: []model.IssueRef{{Key: "PROJ-2", Project: "PROJ"}}},
		Issues: map[string]model.IssueSnapshot{
			"PROJ-2": {Key: "PROJ-2", IsSupported: true}, // no FixVersions
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	fv := findingsFor(t, model.CategoryFixVersionSanity, findings)
	require.NotEmpty(t, fv)
	assert.Equal(t, model.SeverityBlock, fv[0].Severity)
}

func TestPipeline_OpenSourceCleanFileWarnsWithApprovers(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:           "1",
			ChangedFiles: []string{"open/server/foo.cpp"},
		},
	}
	cfg := &config.Config{
		JobStatusCheckRule: map[string]config.JobStatusCheckRule{
			"open-source": {ApproveRuleset: config.ApproveRuleset{
				RelevanceChecker: "is_file_open_sourced",
				Rules: []config.ApprovalRule{{Patterns: []string{"open/**"}, Approvers: []string{"apidoc_approver_1", "apidoc_approver_2"}}},
			}},
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, cfg)
	osFindings := findingsFor(t, model.CategoryOpenSourceCompat, findings)
	require.Len(t, osFindings, 1)
	assert.Equal(t, model.SeverityWarn, osFindings[0].Severity)
	assert.ElementsMatch(t, []string{"apidoc_approver_1", "apidoc_approver_2"}, osFindings[0].RequiredApprovers)
}

func TestPipeline_OpenSourceViolationBlocksWithApprovers(t *testing.T) {
	checkers := compliance.New(context.Background(), "/repo", &compliance.FakeOpenSourceChecker{
		ViolationsByFile: map[string][]compliance.Violation{
			"open/client/bar.h": {{File: "open/client/bar.h", Message: "forbidden term"}},
		},
	}, &compliance.FakeSubmoduleChecker{})

	result := snapshot.Result{MR: model.MRSnapshot{ID: "1", ChangedFiles: []string{"open/client/bar.h"}}}
	cfg := &config.Config{
		JobStatusCheckRule: map[string]config.JobStatusCheckRule{
			"open-source": {ApproveRuleset: config.ApproveRuleset{
				RelevanceChecker: "is_file_open_sourced",
				Rules: []config.ApprovalRule{{Patterns: []string{"open/**"}, Approvers: []string{"client_approver_1", "client_approver_2"}}},
			}},
		},
	}
	findings := Default(checkers).Evaluate(result, cfg)
	osFindings := findingsFor(t, model.CategoryOpenSourceCompat, findings)
	require.Len(t, osFindings, 1)
	assert.Equal(t, model.SeverityBlock, osFindings[0].Severity)
	assert.ElementsMatch(t, []string{"client_approver_1", "client_approver_2"}, osFindings[0].RequiredApprovers)
}

func TestPipeline_DraftBlocksMergeReadinessEvenWithoutOtherFindings(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:             "1",
			Draft:          true,
			Title:          "PROJ-1: fix",
			Squash:         true,
			Commits:        []model.Commit{{SHA: "a", Message: "PROJ-1: fix\n\n"}},
			ReferencedRefs: []model.IssueRef{{Key: "PROJ-1", Project: "PROJ"}},
			Mergeability:   model.MergeabilityMergeable,
		},
		Issues: map[string]model.IssueSnapshot{
			"PROJ-1": {Key: "PROJ-1", IsSupported: true, FixVersions: []model.FixVersion{{Version: "v1", Branch: "master"}}},
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	mr := findingsFor(t, model.CategoryMergeReadiness, findings)
	require.Len(t, mr, 1)
	assert.Equal(t, model.SeverityBlock, mr[0].Severity)
}

func TestPipeline_MergeReadinessNeverPassesOnceMRIsAlreadyMerged(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:             "1",
			Merged:         true,
			Title:          "PROJ-1: fix",
			Squash:         true,
			Commits:        []model.Commit{{SHA: "a", Message: "PROJ-1: fix\n\n"}},
			ReferencedRefs: []model.IssueRef{{Key: "PROJ-1", Project: "PROJ"}},
			Mergeability:   model.MergeabilityMergeable,
		},
		Issues: map[string]model.IssueSnapshot{
			"PROJ-1": {Key: "PROJ-1", IsSupported: true, FixVersions: []model.FixVersion{{Version: "v1", Branch: "master"}}},
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	mr := findingsFor(t, model.CategoryMergeReadiness, findings)
	require.Len(t, mr, 1)
	assert.NotEqual(t, model.SeverityPass, mr[0].Severity)
}

func TestApprovalSufficiencyRule_DispatchesOnIsFileOpenSourcedRelevanceChecker(t *testing.T) {
	cfg := &config.Config{
		JobStatusCheckRule: map[string]config.JobStatusCheckRule{
			"open_source": {ApproveRuleset: config.ApproveRuleset{
				RelevanceChecker: "is_file_open_sourced",
				Rules:            []config.ApprovalRule{{Approvers: []string{"alice"}}},
			}},
		},
	}

	// A changed file under "open/" is relevant to an is_file_open_sourced
	// ruleset even though it matches no glob pattern (none configured).
	relevant := snapshot.Result{MR: model.MRSnapshot{ID: "1", ChangedFiles: []string{"open/foo.cpp"}}}
	findings := approvalSufficiencyRule{}.Evaluate(relevant, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, model.SeverityBlock, findings[0].Severity)
	assert.Equal(t, []string{"alice"}, findings[0].RequiredApprovers)

	// A file outside "open/" is not relevant, so the ruleset imposes no
	// requirement and the rule passes.
	irrelevant := snapshot.Result{MR: model.MRSnapshot{ID: "1", ChangedFiles: []string{"closed/foo.cpp"}}}
	findings = approvalSufficiencyRule{}.Evaluate(irrelevant, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, model.SeverityPass, findings[0].Severity)
}

func TestApprovalSufficiencyRule_MatchNamePatternUsesPlainGlobMatch(t *testing.T) {
	cfg := &config.Config{
		JobStatusCheckRule: map[string]config.JobStatusCheckRule{
			"docs": {ApproveRuleset: config.ApproveRuleset{
				RelevanceChecker: "match_name_pattern",
				Rules:            []config.ApprovalRule{{Patterns: []string{"docs/**"}, Approvers: []string{"bob"}}},
			}},
		},
	}

	result := snapshot.Result{MR: model.MRSnapshot{ID: "1", ChangedFiles: []string{"docs/readme.md"}}}
	findings := approvalSufficiencyRule{}.Evaluate(result, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"bob"}, findings[0].RequiredApprovers)

	// A file that happens to live under "open/" must not trigger a
	// match_name_pattern ruleset: the pattern list is the sole predicate.
	result = snapshot.Result{MR: model.MRSnapshot{ID: "1", ChangedFiles: []string{"open/foo.cpp"}}}
	findings = approvalSufficiencyRule{}.Evaluate(result, cfg)
	require.Len(t, findings, 1)
	assert.Equal(t, model.SeverityPass, findings[0].Severity)
}

func TestPipeline_ManualPendingWithNoJobsIsPass(t *testing.T) {
	result := snapshot.Result{
		MR: model.MRSnapshot{
			ID:       "1",
			Pipeline: model.Pipeline{Status: model.PipelineManualPending},
		},
	}
	findings := Default(baseCheckers()).Evaluate(result, &config.Config{})
	pl := findingsFor(t, model.CategoryPipeline, findings)
	require.NotEmpty(t, pl)
	assert.Equal(t, model.SeverityPass, pl[0].Severity)
}
