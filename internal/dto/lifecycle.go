package dto

import "time"

// SweepResult lists the courses promoted by one sweep.
type SweepResult struct {
	RanAt              time.Time `json:"ran_at"`
	PromotedToOngoing  []string  `json:"promoted_to_ongoing"`
	PromotedToFinished []string  `json:"promoted_to_finished"`
	Failed             []string  `json:"failed,omitempty"`
}
