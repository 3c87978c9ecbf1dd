package models

// AgentStatus is what the agent's control endpoint reports
type AgentStatus struct {
	EmployeeID           string     `json:"employeeId"`
	DeviceID             string     `json:"deviceId,omitempty"`
	Active               *TimeEntry `json:"active"`
	Capturing            bool       `json:"capturing"`
	Degraded             bool       `json:"degraded"`
	PendingUploads       int        `json:"pendingUploads"`
	ScreenshotIntervalMs int64      `json:"screenshotIntervalMs,omitempty"`
	IdleMs               int64      `json:"idleMs"`
}
