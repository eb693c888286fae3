package pipeline

import "time"

type EventKind string

const (
	EventPlanAttempt    EventKind = "plan_attempt"
	EventPlanAccepted   EventKind = "plan_accepted"
	EventRewardAttempt  EventKind = "reward_attempt"
	EventViolation      EventKind = "violation"
	EventRewardAccepted EventKind = "reward_accepted"
	EventAssembled      EventKind = "assembled"
	EventFailed         EventKind = "failed"
)

// Event reports build progress. Index is the 0-based stage for reward events.
type Event struct {
	BuildID       string    `json:"build_id"`
	EnvironmentID string    `json:"environment_id"`
	Kind          EventKind `json:"kind"`
	Task          string    `json:"task,omitempty"`
	Index         int       `json:"index"`
	Total         int       `json:"total,omitempty"`
	Attempt       int       `json:"attempt,omitempty"`
	Message       string    `json:"message,omitempty"`
	Time          time.Time `json:"time"`
}

// Observer receives events synchronously on the building goroutine.
type Observer func(Event)
