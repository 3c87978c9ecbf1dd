package platform

import "runtime"

// NewPlatform creates the implementation for the current OS
func NewPlatform() (Platform, error) {
	return newPlatform()
}

// UnsupportedPlatformError represents an error for unsupported platforms
type UnsupportedPlatformError struct {
	OS string
}

func (e *UnsupportedPlatformError) Error() string {
	return "unsupported platform: " + e.OS
}

func unsupported() error {
	return &UnsupportedPlatformError{OS: runtime.GOOS}
}
