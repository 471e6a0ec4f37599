package models

import "time"

// GridSize is the fixed number of photo positions on every memorial.
const GridSize = 25

// Summary lifecycle of a memorial's tribute text.
const (
	SummaryNone    = "none"
	SummaryPending = "pending"
	SummaryFailed  = "failed"
	SummaryReady   = "ready"
)

type Memorial struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	CreatedBy        string     `json:"created_by"`
	IsComplete       bool       `json:"is_complete"`
	Summary          *string    `json:"summary,omitempty"`
	SummaryStatus    string     `json:"summary_status"`
	SummaryError     string     `json:"summary_error,omitempty"`
	SummaryStartedAt *time.Time `json:"-"`
	Banner           Banner     `json:"banner"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Banner is optional display metadata shown above the grid.
type Banner struct {
	BirthYear *int   `json:"birth_year,omitempty"`
	DeathYear *int   `json:"death_year,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

type CreateMemorialRequest struct {
	Name   string `json:"name" binding:"required"`
	Banner Banner `json:"banner"`
}

type UpdateMemorialRequest struct {
	Name   *string `json:"name"`
	Banner *Banner `json:"banner"`
}

// GridState is a point-in-time view of a memorial's grid.
type GridState struct {
	Memorial      Memorial    `json:"memorial"`
	Photos        []PhotoSlot `json:"photos"`
	OpenPositions []int       `json:"open_positions"`
}
