package models

import "time"

// ContentBlock is one semantically atomic unit of source content
// (paragraph, heading, list item). The set for a content view is created
// once by segmentation and mutated only by the reading tracker.
type ContentBlock struct {
	ID                 string     `json:"id"`
	Index              int        `json:"index"`
	Text               string     `json:"text"`
	WordCount          int        `json:"word_count"`
	RequiredDwellMs    int        `json:"required_dwell_ms"`
	AccumulatedDwellMs int        `json:"accumulated_dwell_ms"`
	Coverage           float64    `json:"coverage"`
	IsVisible          bool       `json:"is_visible"`
	IsRead             bool       `json:"is_read"`
	FirstSeenAt        *time.Time `json:"first_seen_at,omitempty"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
}

// ReadingProgress is the derived aggregate over all content blocks of one
// view. It is recomputed on every block-state change and never persisted.
type ReadingProgress struct {
	TotalBlocks           int     `json:"total_blocks"`
	ReadBlocks            int     `json:"read_blocks"`
	ReadRatio             float64 `json:"read_ratio"`
	CanUnlock             bool    `json:"can_unlock"`
	CurrentScrollVelocity float64 `json:"current_scroll_velocity"`
	IsScrollingTooFast    bool    `json:"is_scrolling_too_fast"`
	ScrollAttritionActive bool    `json:"scroll_attrition_active"`
}
