package models

import "time"

// Event types published on the recorder.events.<camera> subject.
const (
	EventProcessStart = "process_start"
	EventProcessExit  = "process_exit"
	EventStall        = "stall"
	EventRestartWait  = "restart_wait"
	EventMerge        = "merge"
	EventMergeFailure = "merge_failure"
	EventSweep        = "sweep"
)

// RecorderEvent is the structured lifecycle event emitted over NATS.
type RecorderEvent struct {
	Type   string    `json:"type"`
	Camera string    `json:"camera,omitempty"`
	Bucket string    `json:"bucket,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Count  int       `json:"count,omitempty"`
	Time   time.Time `json:"time"`
}
