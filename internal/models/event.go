package models

// EventType names a lifecycle transition pushed to listeners
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
)

// Event is delivered at least once; consumers must tolerate duplicates
type Event struct {
	Type  EventType  `json:"type"`
	Entry *TimeEntry `json:"entry"`
}
