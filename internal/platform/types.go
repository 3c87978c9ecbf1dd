package platform

import (
	"fmt"
	"time"
)

// Platform defines the interface for platform-specific operations
type Platform interface {
	// GetDeviceID returns a stable identifier for this machine
	GetDeviceID() (string, error)

	// GetSystemInfo returns OS facts used in the per-session device snapshot
	GetSystemInfo() (*SystemInfo, error)

	// ScreenResolution returns the primary display size in pixels
	ScreenResolution() (width, height int, err error)

	// IdleTime reports how long the user has been idle. Idle detection is
	// not implemented; it always returns zero.
	IdleTime() time.Duration

	// OpenBrowser opens the default browser with the given URL
	OpenBrowser(url string) error
}

// SystemInfo contains system information
type SystemInfo struct {
	OS        string
	OSVersion string
	Arch      string
	Hostname  string
}

// Resolution formats a display size as "WxH"
func Resolution(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}
