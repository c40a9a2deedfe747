// Package eventbus fans task lifecycle events out to in-process
// observers. Publishing never blocks the coordinator: subscribers get
// buffered channels and slow ones lose events rather than stalling a
// schedule or a cancel.
package eventbus

import "time"

// Task lifecycle event types.
const (
	TypeTaskStarted   = "task_started"
	TypeTaskCompleted = "task_completed"
	TypeTaskCancelled = "task_cancelled"
)

// Task identifies the affected task plus the fields relevant to the event
// type: schedule details for task_started, the executed action for
// task_completed, a reason for task_cancelled.
type Task struct {
	EntityID      string `json:"entity_id"`
	TaskID        string `json:"task_id,omitempty"`
	Action        string `json:"action,omitempty"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	DelaySeconds  int    `json:"delay_seconds,omitempty"`
	RunNow        bool   `json:"run_now,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Event is one published lifecycle notice. Time is stamped on publish
// when the producer leaves it zero.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Task Task      `json:"task"`
}
