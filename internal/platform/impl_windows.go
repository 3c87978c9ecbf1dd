//go:build windows

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

type windowsImpl struct{}

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
)

const (
	smCxScreen = 0
	smCyScreen = 1
)

func newPlatform() (Platform, error) {
	return &windowsImpl{}, nil
}

func (p *windowsImpl) GetDeviceID() (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Cryptography`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err == nil {
		defer key.Close()
		if guid, _, err := key.GetStringValue("MachineGuid"); err == nil && guid != "" {
			return guid, nil
		}
	}

	hostname, _ := os.Hostname()
	if hostname != "" {
		return hostname, nil
	}
	return "unknown-device", nil
}

func (p *windowsImpl) GetSystemInfo() (*SystemInfo, error) {
	hostname, _ := os.Hostname()
	v := windows.RtlGetVersion()
	return &SystemInfo{
		OS:        "windows",
		OSVersion: fmt.Sprintf("%d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber),
		Arch:      runtime.GOARCH,
		Hostname:  hostname,
	}, nil
}

func (p *windowsImpl) ScreenResolution() (int, int, error) {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)
	if w == 0 || h == 0 {
		return 0, 0, fmt.Errorf("GetSystemMetrics returned no screen size")
	}
	return int(w), int(h), nil
}

func (p *windowsImpl) IdleTime() time.Duration { return 0 }

func (p *windowsImpl) OpenBrowser(url string) error {
	// The empty title argument is required by cmd's start builtin
	cmd := exec.Command("cmd", "/c", "start", "", url)
	return cmd.Start()
}
