package models

import "time"

// Screenshot is the immutable metadata record of one captured frame. The
// image bytes live in blob storage at StoragePath.
type Screenshot struct {
	ID            string    `json:"id"`
	TimeEntryID   string    `json:"timeEntryId"`
	EmployeeID    string    `json:"employeeId"`
	ProjectID     string    `json:"projectId"`
	TaskID        string    `json:"taskId"`
	MimeType      string    `json:"mimeType"`
	Size          int64     `json:"size"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	TakenAt       time.Time `json:"takenAt"`
	HasPermission bool      `json:"hasPermission"`
	StoragePath   string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ScreenshotUpload is what the agent sends (or queues) for one artifact
type ScreenshotUpload struct {
	ID            string    `json:"id"`
	TimeEntryID   string    `json:"timeEntryId"`
	ProjectID     string    `json:"projectId"`
	TaskID        string    `json:"taskId"`
	MimeType      string    `json:"mimeType"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	TakenAt       time.Time `json:"takenAt"`
	HasPermission bool      `json:"hasPermission"`
	Data          []byte    `json:"-"`
}
