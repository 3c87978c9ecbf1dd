//go:build darwin

package platform

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

type darwinImpl struct{}

func newPlatform() (Platform, error) {
	return &darwinImpl{}, nil
}

var ioregUUID = regexp.MustCompile(`"IOPlatformUUID" = "([^"]+)"`)

func (p *darwinImpl) GetDeviceID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err == nil {
		if m := ioregUUID.FindStringSubmatch(string(out)); m != nil {
			return m[1], nil
		}
	}
	return hostnameDeviceID()
}

func (p *darwinImpl) GetSystemInfo() (*SystemInfo, error) {
	version, err := unix.Sysctl("kern.osproductversion")
	if err != nil || version == "" {
		version = unameRelease()
	}
	return unixSystemInfo(version), nil
}

var profilerResolution = regexp.MustCompile(`Resolution: (\d+) x (\d+)`)

func (p *darwinImpl) ScreenResolution() (int, int, error) {
	out, err := exec.Command("system_profiler", "SPDisplaysDataType").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query screen resolution: %w", err)
	}
	m := profilerResolution.FindStringSubmatch(string(out))
	if m == nil {
		return 0, 0, fmt.Errorf("no display reported")
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return w, h, nil
}

func (p *darwinImpl) IdleTime() time.Duration { return zeroIdle() }

func (p *darwinImpl) OpenBrowser(url string) error {
	return exec.Command("open", url).Run()
}
