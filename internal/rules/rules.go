// Package rules implements Component D (§4.D): the ordered Rule Pipeline.
// Each rule is modeled as a two-method capability value — applies_to/
// evaluate — per §9's dynamic-dispatch design note, generalizing the
// teacher's HITL-flag cascade (server/hitl.go's resolveHITLFlags) from a
// single resolution pass into a list of independently pluggable checks.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/networkoptix/robocat/internal/compliance"
	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/model"
	"github.com/networkoptix/robocat/internal/snapshot"
)

// Rule is one pluggable check in the pipeline.
type Rule interface {
	Name() string
	AppliesTo(result snapshot.Result) bool
	Evaluate(result snapshot.Result, cfg *config.Config) []model.Finding
}

// Pipeline runs every applicable Rule, in order, over one snapshot Result.
type Pipeline struct {
	rules []Rule
}

// Default builds the pipeline of mandatory rules in the order §4.D names
// them.
func Default(compl *compliance.Checkers) *Pipeline {
	return &Pipeline{rules: []Rule{
		issueMentionRule{},
		titleDescriptionFormatRule{},
		commitIssueMentionRule{},
		fixVersionSanityRule{},
		openSourceComplianceRule{checkers: compl},
		submoduleConsistencyRule{checkers: compl},
		approvalSufficiencyRule{},
		pipelineStatusRule{},
	}}
}

// Evaluate runs every applicable rule and concatenates their findings, then
// appends the merge-readiness composite (§4.D), which by construction must
// see every other rule's output and so cannot be just another list member
// without breaking §9's "no non-local control flow" design note.
func (p *Pipeline) Evaluate(result snapshot.Result, cfg *config.Config) []model.Finding {
	var findings []model.Finding
	for _, r := range p.rules {
		if !r.AppliesTo(result) {
			continue
		}
		findings = append(findings, r.Evaluate(result, cfg)...)
	}
	findings = append(findings, ComputeMergeReadiness(result, findings))
	return findings
}

// --- Issue mention ---------------------------------------------------------

type issueMentionRule struct{}

func (issueMentionRule) Name() string                          { return "issue-mention" }
func (issueMentionRule) AppliesTo(snapshot.Result) bool         { return true }
func (issueMentionRule) Evaluate(r snapshot.Result, _ *config.Config) []model.Finding {
	for _, ref := range r.MR.ReferencedRefs {
		if issue, ok := r.Issues[ref.Key]; ok && issue.IsSupported {
			return []model.Finding{{Severity: model.SeverityPass, Category: model.CategoryWorkflow, ObjectID: r.MR.ID}}
		}
	}
	return []model.Finding{{
		Severity: model.SeverityBlock,
		Category: model.CategoryWorkflow,
		ObjectID: r.MR.ID,
		Message:  "no referenced issue in a supported project",
	}}
}

// --- Title/description format (squash on) ----------------------------------

var titleFormatPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]+-\d+(?:\s*,\s*[A-Z][A-Z0-9]+-\d+)*:\s*[^(]`)

type titleDescriptionFormatRule struct{}

func (titleDescriptionFormatRule) Name() string { return "title-description-format" }

func (titleDescriptionFormatRule) AppliesTo(r snapshot.Result) bool { return r.MR.Squash }

func (titleDescriptionFormatRule) Evaluate(r snapshot.Result, _ *config.Config) []model.Finding {
	if !titleFormatPattern.MatchString(r.MR.Title) {
		return []model.Finding{{
			Severity: model.SeverityBlock,
			Category: model.CategoryCommitConvention,
			ObjectID: r.MR.ID,
			Message:  `title must match "<ISSUE-KEYS>: <description>" with no parenthesis right after the colon`,
		}}
	}
	if len(r.MR.Commits) == 1 {
		expected := r.MR.Title + "\n\n" + r.MR.Description
		if strings.TrimRight(r.MR.Commits[0].Message, "\n") != strings.TrimRight(expected, "\n") {
			return []model.Finding{{
				Severity: model.SeverityBlock,
				Category: model.CategoryCommitConvention,
				ObjectID: r.MR.ID,
				Message:  "sole commit message must equal title + blank line + description",
			}}
		}
	}
	return []model.Finding{{Severity: model.SeverityPass, Category: model.CategoryCommitConvention, ObjectID: r.MR.ID}}
}

// --- Commit-level issue mention (squash off) --------------------------------

type commitIssueMentionRule struct{}

func (commitIssueMentionRule) Name() string { return "commit-issue-mention" }

func (commitIssueMentionRule) AppliesTo(r snapshot.Result) bool { return !r.MR.Squash }

func (commitIssueMentionRule) Evaluate(r snapshot.Result, _ *config.Config) []model.Finding {
	titleDescIssues := lo.Map(r.MR.ReferencedRefs, func(ref model.IssueRef, _ int) string { return ref.Key })
	var findings []model.Finding

	for _, c := range r.MR.Commits {
		if !issueKeyPattern.MatchString(c.Message) {
			findings = append(findings, model.Finding{
				Severity: model.SeverityBlock,
				Category: model.CategoryCommitConvention,
				ObjectID: c.SHA,
				Message:  fmt.Sprintf("commit %s does not mention any issue key", c.SHA),
			})
		}
	}

	commitIssues := map[string]struct{}{}
	for _, c := range r.MR.Commits {
		for _, m := range issueKeyPattern.FindAllString(c.Message, -1) {
			commitIssues[m] = struct{}{}
		}
	}
	for _, key := range titleDescIssues {
		if _, ok := commitIssues[key]; !ok {
			findings = append(findings, model.Finding{
				Severity: model.SeverityBlock,
				Category: model.CategoryCommitConvention,
				ObjectID: r.MR.ID,
				Message:  fmt.Sprintf("issue %s referenced in title/description but not in any commit", key),
			})
		}
	}
	if len(findings) == 0 {
		findings = append(findings, model.Finding{Severity: model.SeverityPass, Category: model.CategoryCommitConvention, ObjectID: r.MR.ID})
	}
	return findings
}

var issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)

// --- fixVersion sanity -------------------------------------------------------

type fixVersionSanityRule struct{}

func (fixVersionSanityRule) Name() string                  { return "fix-version-sanity" }
func (fixVersionSanityRule) AppliesTo(snapshot.Result) bool { return true }

func (fixVersionSanityRule) Evaluate(r snapshot.Result, _ *config.Config) []model.Finding {
	var findings []model.Finding
	for _, ref := range r.MR.ReferencedRefs {
		issue, ok := r.Issues[ref.Key]
		if !ok || !issue.IsSupported {
			continue
		}
		if len(issue.FixVersions) == 0 {
			findings = append(findings, model.Finding{
				Severity: model.SeverityBlock,
				Category: model.CategoryFixVersionSanity,
				ObjectID: issue.Key,
				Message:  fmt.Sprintf("issue %s has no fixVersions set", issue.Key),
			})
			continue
		}
		branchVersions := map[string][]string{}
		for _, fv := range issue.FixVersions {
			if fv.Branch == "" {
				findings = append(findings, model.Finding{
					Severity: model.SeverityBlock,
					Category: model.CategoryFixVersionSanity,
					ObjectID: issue.Key,
					Message:  fmt.Sprintf("issue %s fixVersion %q maps to no known branch", issue.Key, fv.Version),
				})
				continue
			}
			branchVersions[fv.Branch] = append(branchVersions[fv.Branch], fv.Version)
		}
		for branch, versions := range branchVersions {
			if len(versions) > 1 {
				findings = append(findings, model.Finding{
					Severity: model.SeverityBlock,
					Category: model.CategoryFixVersionSanity,
					ObjectID: issue.Key,
					Message:  fmt.Sprintf("issue %s has contradictory fixVersions %v mapping to the same branch %q", issue.Key, versions, branch),
				})
			}
		}
	}
	if len(findings) == 0 {
		findings = append(findings, model.Finding{Severity: model.SeverityPass, Category: model.CategoryFixVersionSanity, ObjectID: r.MR.ID})
	}
	return findings
}

// --- Open-source compliance (delegated) -------------------------------------

type openSourceComplianceRule struct {
	checkers *compliance.Checkers
}

func (openSourceComplianceRule) Name() string                  { return "open-source-compliance" }
func (openSourceComplianceRule) AppliesTo(snapshot.Result) bool { return true }

func (r openSourceComplianceRule) Evaluate(res snapshot.Result, cfg *config.Config) []model.Finding {
	violations, newOpenSourceFiles, err := r.checkers.CheckOpenSource(res.MR.ChangedFiles)
	if err != nil {
		return []model.Finding{{
			Severity: model.SeverityBlock,
			Category: model.CategoryOpenSourceCompat,
			ObjectID: res.MR.ID,
			Message:  fmt.Sprintf("open-source compliance checker failed: %v", err),
		}}
	}
	if len(violations) > 0 {
		var findings []model.Finding
		for _, v := range violations {
			findings = append(findings, model.Finding{
				Severity:          model.SeverityBlock,
				Category:          model.CategoryOpenSourceCompat,
				ObjectID:          v.File,
				Message:           v.Message,
				RequiredApprovers: approversForRelevanceChecker(cfg, "is_file_open_sourced", []string{v.File}),
			})
		}
		return findings
	}
	if len(newOpenSourceFiles) > 0 {
		return []model.Finding{{
			Severity:          model.SeverityWarn,
			Category:          model.CategoryOpenSourceCompat,
			ObjectID:          res.MR.ID,
			Message:           fmt.Sprintf("%d new open-source file(s) require sign-off", len(newOpenSourceFiles)),
			RequiredApprovers: approversForRelevanceChecker(cfg, "is_file_open_sourced", newOpenSourceFiles),
		}}
	}
	return []model.Finding{{Severity: model.SeverityInfo, Category: model.CategoryOpenSourceCompat, ObjectID: res.MR.ID, Message: "no open-source files touched"}}
}

// --- Nested-submodule consistency (delegated) -------------------------------

type submoduleConsistencyRule struct {
	checkers *compliance.Checkers
}

func (submoduleConsistencyRule) Name() string { return "submodule-consistency" }
func (submoduleConsistencyRule) AppliesTo(_ snapshot.Result) bool { return true }

func (r submoduleConsistencyRule) Evaluate(res snapshot.Result, cfg *config.Config) []model.Finding {
	if len(cfg.NxSubmoduleCheckRule.SubmoduleDirs) == 0 {
		return nil // optional rule, disabled when no submodule dirs are configured (§6)
	}
	var findings []model.Finding
	for _, dir := range cfg.NxSubmoduleCheckRule.SubmoduleDirs {
		consistent, details, err := r.checkers.CheckSubmodule(dir)
		if err != nil {
			findings = append(findings, model.Finding{
				Severity: model.SeverityBlock,
				Category: model.CategorySubmoduleConsist,
				ObjectID: dir,
				Message:  fmt.Sprintf("submodule checker failed for %s: %v", dir, err),
			})
			continue
		}
		if !consistent {
			findings = append(findings, model.Finding{
				Severity: model.SeverityBlock,
				Category: model.CategorySubmoduleConsist,
				ObjectID: dir,
				Message:  details,
			})
		}
	}
	if len(findings) == 0 {
		findings = append(findings, model.Finding{Severity: model.SeverityPass, Category: model.CategorySubmoduleConsist, ObjectID: res.MR.ID})
	}
	return findings
}

// --- Approval sufficiency ----------------------------------------------------

type approvalSufficiencyRule struct{}

func (approvalSufficiencyRule) Name() string                  { return "approval-sufficiency" }
func (approvalSufficiencyRule) AppliesTo(snapshot.Result) bool { return true }

func (approvalSufficiencyRule) Evaluate(r snapshot.Result, cfg *config.Config) []model.Finding {
	var findings []model.Finding
	for name, rule := range cfg.JobStatusCheckRule {
		required := resolveRequiredApprovers(rule.ApproveRuleset, r.MR.ChangedFiles)
		if len(required) == 0 {
			continue
		}
		requiredSet := lo.SliceToMap(required, func(a string) (string, struct{}) { return a, struct{}{} })
		if r.MR.ApproverCount(requiredSet) == 0 {
			findings = append(findings, model.Finding{
				Severity:          model.SeverityBlock,
				Category:          model.CategoryApproval,
				ObjectID:          name,
				Message:           fmt.Sprintf("ruleset %q requires an approval from %v", name, required),
				RequiredApprovers: required,
			})
		}
	}
	if len(findings) == 0 {
		findings = append(findings, model.Finding{Severity: model.SeverityPass, Category: model.CategoryApproval, ObjectID: r.MR.ID})
	}
	return findings
}

// resolveRequiredApprovers walks an ApproveRuleset's ordered rules, returning
// the approver set of the first rule relevant to any changed file under the
// ruleset's relevance-checker identity (§3: "earlier rules win; more-specific
// patterns must precede less-specific"; §6: rulesets are keyed by
// relevance-checker identity, not bound to a single matching strategy).
func resolveRequiredApprovers(ruleset config.ApproveRuleset, changedFiles []string) []string {
	for _, rule := range ruleset.Rules {
		for _, f := range changedFiles {
			if relevanceCheckerMatches(ruleset.RelevanceChecker, rule.Patterns, f) {
				return rule.Approvers
			}
		}
	}
	return nil
}

// relevanceCheckerMatches dispatches on the ruleset's configured
// relevance-checker identity (§6) to decide whether file is relevant to a
// rule. "match_name_pattern" (and an unset identity, for backward
// compatibility with rulesets predating §6) is plain glob matching against
// patterns; the other two identities delegate to their named
// internal/compliance predicate, with patterns (if any) further narrowing
// the match.
func relevanceCheckerMatches(relevanceChecker string, patterns []string, file string) bool {
	switch relevanceChecker {
	case "is_file_open_sourced":
		return compliance.IsFileOpenSourced(file) && narrowedByPatterns(patterns, file)
	case "does_file_diff_contain_apidoc_changes":
		return compliance.DoesFileDiffContainAPIDocChanges(file) && narrowedByPatterns(patterns, file)
	default: // "match_name_pattern" and unset: patterns are the sole predicate
		return matchesAnyPattern(patterns, file)
	}
}

// narrowedByPatterns reports whether file should still count as relevant
// given an optional extra pattern scope: true with no patterns (the
// relevance-checker predicate alone decides), otherwise true only if file
// matches one of them.
func narrowedByPatterns(patterns []string, file string) bool {
	if len(patterns) == 0 {
		return true
	}
	return matchesAnyPattern(patterns, file)
}

func matchesAnyPattern(patterns []string, file string) bool {
	for _, p := range patterns {
		if matched, _ := regexpGlobMatch(p, file); matched {
			return true
		}
	}
	return false
}

// approversForRelevanceChecker resolves the required-approver set from every
// configured ruleset whose relevance_checker identity matches, applying the
// same first-match-wins pattern resolution as approval sufficiency (§3).
func approversForRelevanceChecker(cfg *config.Config, relevanceChecker string, files []string) []string {
	var approvers []string
	for _, rule := range cfg.JobStatusCheckRule {
		if rule.ApproveRuleset.RelevanceChecker != relevanceChecker {
			continue
		}
		approvers = append(approvers, resolveRequiredApprovers(rule.ApproveRuleset, files)...)
	}
	return lo.Uniq(approvers)
}

func regexpGlobMatch(pattern, name string) (bool, error) {
	// Translate a shell-style glob into a regexp anchor match; "**" spans
	// directory separators, "*" does not.
	re := "^" + strings.ReplaceAll(
		strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*\*`, `.*`),
		`\*`, `[^/]*`) + "$"
	return regexp.MatchString(re, name)
}

// --- Pipeline status ---------------------------------------------------------

type pipelineStatusRule struct{}

func (pipelineStatusRule) Name() string                  { return "pipeline-status" }
func (pipelineStatusRule) AppliesTo(snapshot.Result) bool { return true }

func (pipelineStatusRule) Evaluate(r snapshot.Result, _ *config.Config) []model.Finding {
	switch r.MR.Pipeline.Status {
	case model.PipelineFailed:
		return []model.Finding{{Severity: model.SeverityBlock, Category: model.CategoryPipeline, ObjectID: r.MR.ID, Message: "pipeline failed"}}
	case model.PipelineRunning:
		return []model.Finding{{Severity: model.SeverityInfo, Category: model.CategoryPipeline, ObjectID: r.MR.ID, Message: "pipeline running"}}
	case model.PipelineSuccess:
		if r.MR.Pipeline.HeadSHA != "" && len(r.MR.Commits) > 0 && r.MR.Pipeline.HeadSHA != r.MR.Commits[len(r.MR.Commits)-1].SHA {
			return []model.Finding{{Severity: model.SeverityInfo, Category: model.CategoryPipeline, ObjectID: r.MR.ID, Message: "pipeline succeeded for a stale head"}}
		}
		return []model.Finding{{Severity: model.SeverityPass, Category: model.CategoryPipeline, ObjectID: r.MR.ID}}
	case model.PipelineManualPending:
		if len(r.MR.Pipeline.ManualJobs) == 0 {
			// No manual jobs left pending is treated as pass (§8 boundary behavior).
			return []model.Finding{{Severity: model.SeverityPass, Category: model.CategoryPipeline, ObjectID: r.MR.ID}}
		}
		return []model.Finding{{Severity: model.SeverityInfo, Category: model.CategoryPipeline, ObjectID: r.MR.ID, Message: "manual jobs pending"}}
	default:
		return []model.Finding{{Severity: model.SeverityInfo, Category: model.CategoryPipeline, ObjectID: r.MR.ID, Message: "no pipeline yet"}}
	}
}

// --- Merge readiness (composite) ---------------------------------------------

// ComputeMergeReadiness is the merge-readiness composite: pass iff no
// other block findings exist and the MR is neither draft nor conflicting.
// It is applied by Pipeline.Evaluate after the full finding set is in
// hand, since a capability value cannot see its siblings' output mid-pipeline
// without breaking §9's "no non-local control flow" design note.
//
// An already-merged MR never reports pass here: merging is a one-shot
// action (§1(d), §8 Testable Property 2), and a stale "pass" would have the
// planner try to merge it again every subsequent cycle.
func ComputeMergeReadiness(r snapshot.Result, findings []model.Finding) model.Finding {
	if r.MR.Merged {
		return model.Finding{Severity: model.SeverityInfo, Category: model.CategoryMergeReadiness, ObjectID: r.MR.ID, Message: "already merged"}
	}
	for _, f := range findings {
		if f.Category == model.CategoryMergeReadiness {
			continue
		}
		if f.Severity == model.SeverityBlock {
			return model.Finding{Severity: model.SeverityBlock, Category: model.CategoryMergeReadiness, ObjectID: r.MR.ID, Message: "blocked by other findings"}
		}
	}
	if r.MR.Draft {
		return model.Finding{Severity: model.SeverityBlock, Category: model.CategoryMergeReadiness, ObjectID: r.MR.ID, Message: "MR is a draft"}
	}
	if r.MR.Mergeability == model.MergeabilityConflicts {
		return model.Finding{Severity: model.SeverityBlock, Category: model.CategoryMergeReadiness, ObjectID: r.MR.ID, Message: "MR has conflicts"}
	}
	return model.Finding{Severity: model.SeverityPass, Category: model.CategoryMergeReadiness, ObjectID: r.MR.ID}
}
