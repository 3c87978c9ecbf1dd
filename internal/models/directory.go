package models

// Employee, Project and Task are owned by the directory service; the session
// lifecycle only reads them.
type Employee struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

type Project struct {
	ID                   string `json:"id" yaml:"id"`
	Name                 string `json:"name" yaml:"name"`
	ScreenshotsEnabled   bool   `json:"screenshotsEnabled" yaml:"screenshots_enabled"`
	ScreenshotIntervalMs int64  `json:"screenshotIntervalMs" yaml:"screenshot_interval_ms"`
}

type Task struct {
	ID        string `json:"id" yaml:"id"`
	ProjectID string `json:"projectId" yaml:"project_id"`
	Name      string `json:"name" yaml:"name"`
}
