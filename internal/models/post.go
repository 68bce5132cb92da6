package models

import "time"

type Post struct {
	ID        int64     `json:"id"`
	ProfileID int64     `json:"profile_id"`
	Body      string    `json:"body"`
	LinkURL   string    `json:"link_url,omitempty"`
	AttemptID string    `json:"attempt_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PostFilter struct {
	ProfileID int64
	Limit     int
	Offset    int
}
