package models

import "time"

// SyncSource identifies an integrated system that can originate issue updates.
type SyncSource string

const (
	SourceManual SyncSource = "manual"
	SourceLinear SyncSource = "linear"
	SourceGitHub SyncSource = "github"
	SourceGitLab SyncSource = "gitlab"
	SourceSlack  SyncSource = "slack"
)

// sourcePriority orders sources for tie-breaking simultaneous updates.
// Higher wins. Unknown sources sort last.
var sourcePriority = map[SyncSource]int{
	SourceManual: 5,
	SourceLinear: 4,
	SourceGitHub: 3,
	SourceGitLab: 2,
	SourceSlack:  1,
}

// Priority returns the tie-break rank of the source; zero for unknown sources.
func (s SyncSource) Priority() int {
	return sourcePriority[s]
}

// Known reports whether the source is one of the integrated systems.
func (s SyncSource) Known() bool {
	_, ok := sourcePriority[s]
	return ok
}

// SyncStateRecord is the last applied update for a logical issue. One
// record exists per issue; it is overwritten on every successful sync.
type SyncStateRecord struct {
	IssueID      string            `json:"issue_id"`
	SyncSource   SyncSource        `json:"sync_source"`
	LastSyncedAt time.Time         `json:"last_synced_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ProcessedMarker records that an event has already been handled.
// Its presence in the state store is the deduplication primitive.
type ProcessedMarker struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	ProcessedAt time.Time         `json:"processed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IssueUpdate is one side of a conflict: an update to an issue arriving
// from a given source at a given time.
type IssueUpdate struct {
	Source    SyncSource        `json:"source"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConflictResolution names how a conflict winner was chosen.
type ConflictResolution string

const (
	ResolvedByTimestamp ConflictResolution = "timestamp"
	ResolvedByPriority  ConflictResolution = "source_priority"
)

// ConflictRecord is one audit entry for a resolved conflict on an issue.
type ConflictRecord struct {
	IssueID    string             `json:"issue_id"`
	UpdateA    IssueUpdate        `json:"update_a"`
	UpdateB    IssueUpdate        `json:"update_b"`
	Winner     SyncSource         `json:"winner"`
	Resolution ConflictResolution `json:"resolution"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// TrackerIssue is the tracker-agnostic representation of an issue in an
// external system (GitHub, GitLab).
type TrackerIssue struct {
	ID        string     `json:"id"`
	Number    int        `json:"number"`
	Repo      string     `json:"repo"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	State     string     `json:"state"`
	Labels    []string   `json:"labels,omitempty"`
	URL       string     `json:"url,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// LocalIssue is the source-of-truth issue held by this system.
type LocalIssue struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body,omitempty"`
	State     string            `json:"state"`
	Labels    []string          `json:"labels,omitempty"`
	Refs      map[string]string `json:"refs,omitempty"` // source -> external ref
	UpdatedAt time.Time         `json:"updated_at"`
}
