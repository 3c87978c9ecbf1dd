//go:build linux || darwin

package platform

import (
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

func unameRelease() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return ""
	}
	return unix.ByteSliceToString(u.Release[:])
}

func unixSystemInfo(osVersion string) *SystemInfo {
	hostname, _ := os.Hostname()
	return &SystemInfo{
		OS:        runtime.GOOS,
		OSVersion: osVersion,
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}
}

func hostnameDeviceID() (string, error) {
	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname, nil
	}
	return "unknown-device", nil
}

func zeroIdle() time.Duration { return 0 }
