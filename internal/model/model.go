// Package model holds the shared value types of the per-MR workflow engine:
// events, snapshots, findings and cycle outcomes (actions live in package
// plan). Nothing in this package talks to the network; everything here is a
// plain value struct.
package model

import "time"

// EventKind enumerates the normalized event kinds Component A produces.
type EventKind string

const (
	EventMRUpdated           EventKind = "mr_updated"
	EventMRNoteAdded         EventKind = "mr_note_added"
	EventPipelineStateChange EventKind = "pipeline_state_changed"
	EventCommandInvoked      EventKind = "command_invoked"
	EventTimerTick           EventKind = "timer_tick"
)

// Event is the uniform representation every incoming forge/tracker
// notification is normalized into before it reaches the MR Actor Registry.
type Event struct {
	MRID       string
	Kind       EventKind
	Payload    []byte
	ReceivedAt time.Time
}

// MergeabilityState is the forge's best current knowledge of whether an MR
// can be merged without conflicts.
type MergeabilityState string

const (
	MergeabilityMergeable MergeabilityState = "mergeable"
	MergeabilityConflicts MergeabilityState = "conflicts"
	MergeabilityUnknown   MergeabilityState = "unknown"
)

// PipelineStatus mirrors the forge's CI pipeline status vocabulary.
type PipelineStatus string

const (
	PipelineNone          PipelineStatus = "none"
	PipelineRunning       PipelineStatus = "running"
	PipelineSuccess       PipelineStatus = "success"
	PipelineFailed        PipelineStatus = "failed"
	PipelineCanceled      PipelineStatus = "canceled"
	PipelineManualPending PipelineStatus = "manual-pending"
)

// Pipeline describes the current CI pipeline for an MR's HEAD commit.
type Pipeline struct {
	ID         string
	Status     PipelineStatus
	HeadSHA    string
	ManualJobs []string // names of jobs awaiting manual start
}

// Commit is a single entry in an MR's commit list.
type Commit struct {
	SHA        string
	Message    string
	ParentSHAs []string
}

// Approval records that an identity approved the MR.
type Approval struct {
	Approver string
}

// IssueRef is a parsed issue key together with the project it belongs to.
type IssueRef struct {
	Key     string
	Project string
}

// MRSnapshot is the immutable, authoritative view of a single MR built fresh
// by Component C for every evaluation cycle.
type MRSnapshot struct {
	ID             string
	Title          string
	Description    string
	SourceBranch   string
	TargetBranch   string
	Author         string
	Squash         bool
	Draft          bool
	Merged         bool
	Approvals      []Approval
	Mergeability   MergeabilityState
	Pipeline       Pipeline
	Commits        []Commit
	ChangedFiles   []string
	ReferencedRefs []IssueRef // issues mentioned in title/description/commits
	IsFollowUp     bool
	Assignees      []string

	// OpenDiscussions is the set of bot-owned discussions currently open on
	// the MR, keyed by the fingerprint that minted them.
	OpenDiscussions map[string]DiscussionRef
}

// DiscussionRef is an entry in the logically-derived Discussion Ledger (§3).
type DiscussionRef struct {
	DiscussionID string
	Resolved     bool
}

// ApproverCount returns how many distinct approvers from the given required
// set have approved.
func (s MRSnapshot) ApproverCount(required map[string]struct{}) int {
	seen := map[string]struct{}{}
	for _, a := range s.Approvals {
		if _, ok := required[a.Approver]; ok {
			seen[a.Approver] = struct{}{}
		}
	}
	return len(seen)
}

// HasAssignee reports whether identity is already an assignee.
func (s MRSnapshot) HasAssignee(identity string) bool {
	for _, a := range s.Assignees {
		if a == identity {
			return true
		}
	}
	return false
}

// IssueSnapshot is the authoritative view of a single tracker issue (§3).
type IssueSnapshot struct {
	Key           string
	Project       string
	Status        string
	FixVersions   []FixVersion
	Assignee      string
	IsSupported   bool // project is in the configured supported-project set
}

// FixVersion maps a tracker version label to the branch it targets.
type FixVersion struct {
	Version string
	Branch  string
}

// Severity is the finding severity scale, ordered pass < info < warn < block.
type Severity int

const (
	SeverityPass Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityPass:
		return "pass"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityBlock:
		return "block"
	default:
		return "unknown"
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// Category enumerates the finding categories of §3.
type Category string

const (
	CategoryWorkflow           Category = "workflow"
	CategoryCommitConvention   Category = "commit-convention"
	CategoryOpenSourceCompat   Category = "open-source-compliance"
	CategorySubmoduleConsist   Category = "submodule-consistency"
	CategoryFixVersionSanity   Category = "fix-version-sanity"
	CategoryPipeline           Category = "pipeline"
	CategoryApproval           Category = "approval"
	CategoryMergeReadiness     Category = "merge-readiness"
)

// selfHealingCategories are the categories the Action Planner is allowed to
// auto-resolve discussions for once the underlying finding disappears (§4.E.1).
var selfHealingCategories = map[Category]struct{}{
	CategoryPipeline:       {},
	CategoryApproval:       {},
	CategoryMergeReadiness: {},
}

// SelfHealing reports whether a discussion in this category may be
// auto-resolved by the bot once the finding that created it clears.
func (c Category) SelfHealing() bool {
	_, ok := selfHealingCategories[c]
	return ok
}

// Finding is a single evaluation result produced by a rule module (§3).
type Finding struct {
	Severity          Severity
	Category          Category
	ObjectID          string // the affected object (file, directory, issue key...)
	Message           string
	RequiredApprovers []string // non-nil only for compliance findings
}

// Fingerprint is the stable idempotence key derived from category+object.
func (f Finding) Fingerprint() string {
	return string(f.Category) + ":" + f.ObjectID
}

// CycleStatus is the outcome tag of a single evaluation cycle (§9: "explicit
// CycleOutcome variant rather than exceptions").
type CycleStatus int

const (
	CycleCompleted CycleStatus = iota
	CycleDeferred
	CycleFailed
)

// CycleOutcome is the result of one actor evaluation pass over an MR: either
// it ran to completion, it deferred (e.g. a transient forge error that will
// be retried on the next event), or it failed fatally for this pass.
type CycleOutcome struct {
	Status CycleStatus
	Reason string // set when Status == CycleDeferred
	Err    error  // set when Status == CycleFailed
}

func (o CycleOutcome) Deferred() bool { return o.Status == CycleDeferred }
func (o CycleOutcome) Failed() bool   { return o.Status == CycleFailed }
func (o CycleOutcome) Completed() bool { return o.Status == CycleCompleted }

// Completed, Deferred and Failed are CycleOutcome constructors used by the
// engine to keep call sites terse.
func Completed() CycleOutcome { return CycleOutcome{Status: CycleCompleted} }
func Deferred(reason string) CycleOutcome {
	return CycleOutcome{Status: CycleDeferred, Reason: reason}
}
func Failed(err error) CycleOutcome {
	return CycleOutcome{Status: CycleFailed, Err: err}
}
