package compliance

import (
	"path"
	"strings"
)

// Relevance-checker registry (§6): three named identities
// (is_file_open_sourced, does_file_diff_contain_apidoc_changes,
// match_name_pattern) a job_status_check_rule's approve_ruleset keys into.
// §9 calls for a closed, built-in registry rather than a pluggable one.

// IsFileOpenSourced reports whether a file path lives under a directory
// convention that marks it as part of the open-sourced subset of the
// repository.
func IsFileOpenSourced(filePath string) bool {
	clean := path.Clean(filePath)
	return clean == "open" || strings.HasPrefix(clean, "open/")
}

// DoesFileDiffContainAPIDocChanges reports whether a file path is part of
// the public API documentation surface.
func DoesFileDiffContainAPIDocChanges(filePath string) bool {
	clean := path.Clean(filePath)
	return strings.Contains(clean, "apidoc/") || strings.HasSuffix(clean, ".apidoc")
}

// MatchNamePattern reports whether filePath matches any of the given glob
// patterns, used when a ruleset's relevance_checker is "match_name_pattern"
// and the pattern list itself is the relevance predicate.
func MatchNamePattern(filePath string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, filePath); ok {
			return true
		}
	}
	return false
}
