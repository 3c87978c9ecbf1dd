package device

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/models"
	"Mansoor88-6/time-tracking/internal/platform"
)

type netInterface struct {
	Name  string
	Up    bool
	Loop  bool
	MAC   string
	Addrs []net.IP
}

// Probe snapshots the environment a session starts in. Every field is
// best effort; anything undetermined is left as "unknown".
type Probe struct {
	platform   platform.Platform
	interfaces func() ([]netInterface, error)
	logger     *zap.Logger
}

func NewProbe(p platform.Platform, logger *zap.Logger) *Probe {
	return &Probe{platform: p, interfaces: systemInterfaces, logger: logger}
}

func (p *Probe) Probe(ctx context.Context) models.DeviceInfo {
	var info models.DeviceInfo

	if ifaces, err := p.interfaces(); err == nil {
		info.IP, info.MAC = primaryAddress(ifaces)
	} else {
		p.logger.Debug("Failed to list network interfaces", zap.Error(err))
	}

	if p.platform != nil {
		if sys, err := p.platform.GetSystemInfo(); err == nil {
			info.OS = sys.OS
			info.OSVersion = sys.OSVersion
			info.Hostname = sys.Hostname
		}
		if w, h, err := p.platform.ScreenResolution(); err == nil {
			info.ScreenResolution = platform.Resolution(w, h)
		} else {
			p.logger.Debug("Screen resolution unavailable", zap.Error(err))
		}
	}

	return info.WithDefaults()
}

// IdleTime is how long the user has been idle, zero without a platform
func (p *Probe) IdleTime() time.Duration {
	if p.platform == nil {
		return 0
	}
	return p.platform.IdleTime()
}

// primaryAddress picks the first IPv4 address on an up, non-loopback
// interface with a hardware address, falling back to any IPv6 address.
func primaryAddress(ifaces []netInterface) (ip, mac string) {
	var fallbackIP, fallbackMAC string
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop || iface.MAC == "" {
			continue
		}
		for _, addr := range iface.Addrs {
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			if v4 := addr.To4(); v4 != nil {
				return v4.String(), iface.MAC
			}
			if fallbackIP == "" {
				fallbackIP, fallbackMAC = addr.String(), iface.MAC
			}
		}
	}
	return fallbackIP, fallbackMAC
}

func systemInterfaces() ([]netInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		ni := netInterface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
			Loop: iface.Flags&net.FlagLoopback != 0,
			MAC:  iface.HardwareAddr.String(),
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				ni.Addrs = append(ni.Addrs, ipNet.IP)
			}
		}
		out = append(out, ni)
	}
	return out, nil
}
