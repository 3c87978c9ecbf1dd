package models

import "time"

// MaxDescriptionLength bounds TimeEntry.Description in characters
const MaxDescriptionLength = 500

// TimeEntry is one continuous tracked work interval (a session)
type TimeEntry struct {
	ID          string     `json:"id"`
	EmployeeID  string     `json:"employeeId"`
	ProjectID   string     `json:"projectId"`
	TaskID      string     `json:"taskId"`
	Description *string    `json:"description,omitempty"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Duration    int64      `json:"duration"` // milliseconds
	IsActive    bool       `json:"isActive"`
	Screenshots []string   `json:"screenshots"`
	DeviceInfo  DeviceInfo `json:"deviceInfo"`

	// ScreenshotIntervalMs is the capture interval fixed when the session
	// started; zero means capture is disabled for this session.
	ScreenshotIntervalMs int64 `json:"screenshotIntervalMs"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DurationAt returns the session length in milliseconds as of now. Stopped
// sessions return their frozen duration.
func (e *TimeEntry) DurationAt(now time.Time) int64 {
	if !e.IsActive || e.EndTime != nil {
		return e.Duration
	}
	d := now.UnixMilli() - e.StartTime.UnixMilli()
	if d < 0 {
		return 0
	}
	return d
}

// ScreenshotInterval returns the capture interval, zero when disabled
func (e *TimeEntry) ScreenshotInterval() time.Duration {
	return time.Duration(e.ScreenshotIntervalMs) * time.Millisecond
}

// Clone returns a deep copy safe to hand to other goroutines
func (e *TimeEntry) Clone() *TimeEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Description != nil {
		d := *e.Description
		c.Description = &d
	}
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	c.Screenshots = append([]string(nil), e.Screenshots...)
	if c.Screenshots == nil {
		c.Screenshots = []string{}
	}
	return &c
}

// StartRequest asks for a new session. EmployeeID comes from authentication,
// never from the request body.
type StartRequest struct {
	EmployeeID  string      `json:"-"`
	ProjectID   string      `json:"projectId"`
	TaskID      string      `json:"taskId"`
	Description *string     `json:"description,omitempty"`
	DeviceInfo  *DeviceInfo `json:"deviceInfo,omitempty"`
}

type StopRequest struct {
	EmployeeID  string  `json:"-"`
	TimeEntryID string  `json:"timeEntryId"`
	Description *string `json:"description,omitempty"`
}

type UpdateDescriptionRequest struct {
	Description *string `json:"description"`
}

// MillisTime converts a unix millisecond timestamp to a UTC time
func MillisTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TruncateMillis drops sub-millisecond precision so stored and returned
// timestamps compare equal
func TruncateMillis(t time.Time) time.Time {
	return MillisTime(t.UnixMilli())
}
