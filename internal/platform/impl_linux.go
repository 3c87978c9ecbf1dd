//go:build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type linuxImpl struct{}

func newPlatform() (Platform, error) {
	return &linuxImpl{}, nil
}

func (p *linuxImpl) GetDeviceID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id, nil
			}
		}
	}
	return hostnameDeviceID()
}

func (p *linuxImpl) GetSystemInfo() (*SystemInfo, error) {
	return unixSystemInfo(unameRelease()), nil
}

var xrandrCurrent = regexp.MustCompile(`current (\d+) x (\d+)`)

func (p *linuxImpl) ScreenResolution() (int, int, error) {
	// framebuffer first, it needs no display server
	if data, err := os.ReadFile("/sys/class/graphics/fb0/virtual_size"); err == nil {
		parts := strings.Split(strings.TrimSpace(string(data)), ",")
		if len(parts) == 2 {
			w, errW := strconv.Atoi(parts[0])
			h, errH := strconv.Atoi(parts[1])
			if errW == nil && errH == nil && w > 0 && h > 0 {
				return w, h, nil
			}
		}
	}

	out, err := exec.Command("xrandr", "--current").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query screen resolution: %w", err)
	}
	m := xrandrCurrent.FindStringSubmatch(string(out))
	if m == nil {
		return 0, 0, fmt.Errorf("unexpected xrandr output")
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	return w, h, nil
}

func (p *linuxImpl) IdleTime() time.Duration { return zeroIdle() }

func (p *linuxImpl) OpenBrowser(url string) error {
	browsers := []string{"xdg-open", "x-www-browser", "firefox", "google-chrome", "chromium"}
	for _, browser := range browsers {
		cmd := exec.Command(browser, url)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no browser found")
}
