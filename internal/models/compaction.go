package models

import "time"

// CompactionEntryID identifies one CompactionEntry in a session's linear
// compaction chain.
type CompactionEntryID string

// CompactionEntry records one compaction pass: the prefix it replaced and
// the summary that stands in for it. A session's CompactionEntries form a
// linear chain where each later entry summarizes strictly more history
// than its parent.
type CompactionEntry struct {
	ID              CompactionEntryID  `json:"id"`
	ParentID        *CompactionEntryID `json:"parentId,omitempty"`
	CutPointEntryID EntryID            `json:"cutPointEntryId"`
	SummaryText     string             `json:"summaryText"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	TokenEstimate   int                `json:"tokenEstimate"`
}
