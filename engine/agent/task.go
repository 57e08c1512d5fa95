// Package agent orchestrates compound requests as explicit tasks: a
// request is decomposed into ordered sub-queries, each is answered by
// the retrieval pipeline in declared order, and a final answer is
// synthesized with the union of all sub-answer provenance.
package agent

import (
	"fmt"
	"time"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal tasks are
// never resumed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// validTransition reports whether from -> to is a legal state change.
func validTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubResult records the outcome of one sub-query.
type SubResult struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer,omitempty"`
	Provenance []string `json:"provenance,omitempty"`
	// Grounded is false when the answer came back without any
	// supporting chunks.
	Grounded bool   `json:"grounded"`
	Error    string `json:"error,omitempty"`
}

// Task is one unit of orchestrated work. It is owned exclusively by the
// orchestrator for its lifetime and swept from the store after a TTL.
type Task struct {
	ID         string      `json:"id"`
	Goal       string      `json:"goal"`
	Status     Status      `json:"status"`
	SubQueries []string    `json:"sub_queries"`
	Results    []SubResult `json:"results,omitempty"`
	Answer     string      `json:"answer,omitempty"`
	Provenance []string    `json:"provenance,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// transition moves the task to the next status, rejecting illegal moves.
func (t *Task) transition(to Status, now time.Time) error {
	if !validTransition(t.Status, to) {
		return fmt.Errorf("illegal task transition %s -> %s", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}
