package models

import "time"

// GateType identifies which sensitive action a gate guards.
type GateType string

const (
	GateShare    GateType = "share"
	GateComposer GateType = "composer"
	GateComment  GateType = "comment"
)

// Valid reports whether t is a known gate type.
func (t GateType) Valid() bool {
	switch t {
	case GateShare, GateComposer, GateComment:
		return true
	}
	return false
}

// GateAttempt is the immutable audit record of one completed gate run.
// Write-once, append-only: the repository layer offers no update path.
type GateAttempt struct {
	ID          string            `json:"id"`
	ProfileID   int64             `json:"profile_id"`
	GateType    GateType          `json:"gate_type"`
	SourceRef   string            `json:"source_ref"`
	Answers     map[string]string `json:"answers"`
	Score       int               `json:"score"`
	Total       int               `json:"total"`
	Passed      bool              `json:"passed"`
	CompletedAt time.Time         `json:"completed_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AttemptFilter narrows gate-attempt listings.
type AttemptFilter struct {
	ProfileID int64
	GateType  GateType
	Passed    *bool
	Limit     int
	Offset    int
}
