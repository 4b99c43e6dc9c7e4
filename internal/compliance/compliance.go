// Package compliance adapts the two delegated external checkers named in
// §6 (open-source content checker, nested-submodule checker) plus the
// closed relevance-checker registry (is_file_open_sourced,
// does_file_diff_contain_apidoc_changes, match_name_pattern) that keys
// per-repo approval rulesets (§3). The engine invokes these checkers and
// acts on their verdicts; it never performs the underlying text-level
// checks itself (§1 Non-goals).
package compliance

import (
	"context"
)

// Violation is one content violation reported by the open-source checker.
type Violation struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// OpenSourceChecker is the external `check_files` collaborator (§6).
type OpenSourceChecker interface {
	CheckFiles(ctx context.Context, repoDir string, files []string) ([]Violation, error)
}

// SubmoduleChecker is the external `check_submodule` collaborator (§6).
type SubmoduleChecker interface {
	CheckSubmodule(ctx context.Context, repoDir, submoduleDir string) (consistent bool, details string, err error)
}

// Checkers bundles the two delegated checkers plus the repo directory they
// operate against.
type Checkers struct {
	RepoDir  string
	Ctx      context.Context
	OpenSrc  OpenSourceChecker
	Submod   SubmoduleChecker
}

// New builds a Checkers bundle. ctx is bound at construction because the
// rule pipeline's Evaluate signature (§9 design note: rules are plain
// capability values, not context-aware) has no room for one.
func New(ctx context.Context, repoDir string, openSrc OpenSourceChecker, submod SubmoduleChecker) *Checkers {
	return &Checkers{RepoDir: repoDir, Ctx: ctx, OpenSrc: openSrc, Submod: submod}
}

// CheckOpenSource delegates to the open-source content checker and separates
// its violations from the set of files that are newly open-sourced (i.e.
// pass IsFileOpenSourced). newOpenSourceFiles is filled only when the
// checker reports no violation at all; otherwise it is empty. The two
// result in different finding severities per §4.D.
func (c *Checkers) CheckOpenSource(changedFiles []string) (violations []Violation, newOpenSourceFiles []string, err error) {
	var openSourceFiles []string
	for _, f := range changedFiles {
		if IsFileOpenSourced(f) {
			openSourceFiles = append(openSourceFiles, f)
		}
	}
	if len(openSourceFiles) == 0 {
		return nil, nil, nil
	}
	violations, err = c.OpenSrc.CheckFiles(c.Ctx, c.RepoDir, openSourceFiles)
	if err != nil {
		return nil, nil, err
	}
	if len(violations) == 0 {
		newOpenSourceFiles = openSourceFiles
	}
	return violations, newOpenSourceFiles, nil
}

// CheckSubmodule delegates to the submodule checker for a single directory.
func (c *Checkers) CheckSubmodule(submoduleDir string) (consistent bool, details string, err error) {
	return c.Submod.CheckSubmodule(c.Ctx, c.RepoDir, submoduleDir)
}
