// Package command implements Component I (§4.I): extracting bot commands
// from MR comments. Grounded on server/parser/parser.go's staged
// strip-then-extract technique, simplified here since Robocat's grammar has
// no bracketed-option block to additionally parse.
package command

import (
	"regexp"
	"strings"
)

// Verb enumerates the recognized command verbs (§4.I).
type Verb string

const (
	VerbProcess        Verb = "process"
	VerbRunPipeline    Verb = "run-pipeline"
	VerbFollowUp       Verb = "follow-up"
	VerbDraftFollowUp  Verb = "draft-follow-up"
)

// Command is a parsed `@<bot-handle> <verb> [args]` invocation.
type Command struct {
	Verb Verb
	Args []string
}

var knownVerbs = map[string]Verb{
	string(VerbProcess):       VerbProcess,
	string(VerbRunPipeline):   VerbRunPipeline,
	string(VerbFollowUp):      VerbFollowUp,
	string(VerbDraftFollowUp): VerbDraftFollowUp,
}

// commandLinePattern matches "@<handle> <verb> [args...]" at the start of
// the first line of a comment. botHandle is escaped into the pattern at
// Parse time since it comes from configuration, not a compile-time literal.
func commandLinePattern(botHandle string) *regexp.Regexp {
	return regexp.MustCompile(`^@` + regexp.QuoteMeta(botHandle) + `\s+(\S+)(?:\s+(.*))?\s*$`)
}

// Parse extracts a Command from the first line of body, iff it matches the
// `@<bot-handle> <verb> [args]` grammar. Unknown verbs are ignored silently
// (§4.I) — Parse returns ok=false for them, same as for non-command text.
func Parse(botHandle, body string) (cmd Command, ok bool) {
	firstLine := firstLineOf(body)
	m := commandLinePattern(botHandle).FindStringSubmatch(firstLine)
	if m == nil {
		return Command{}, false
	}
	verb, known := knownVerbs[m[1]]
	if !known {
		return Command{}, false
	}
	var args []string
	if strings.TrimSpace(m[2]) != "" {
		args = strings.Fields(m[2])
	}
	return Command{Verb: verb, Args: args}, true
}

func firstLineOf(body string) string {
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		return strings.TrimRight(body[:idx], "\r")
	}
	return body
}
