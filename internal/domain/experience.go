package domain

import "time"

// RLExperience is a single Q-learning transition.
type RLExperience struct {
	State     string    `json:"state"`
	Action    Action    `json:"action"`
	Reward    float64   `json:"reward"`
	NextState string    `json:"next_state"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
}
