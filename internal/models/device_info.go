package models

// Unknown is the placeholder for probe fields that could not be determined
const Unknown = "unknown"

// DeviceInfo is the environment snapshot taken when a session starts
type DeviceInfo struct {
	IP               string `json:"ip"`
	MAC              string `json:"mac"`
	OS               string `json:"os"`
	OSVersion        string `json:"osVersion"`
	Hostname         string `json:"hostname"`
	ScreenResolution string `json:"screenResolution"`
}

// Merge fills empty fields from other
func (d DeviceInfo) Merge(other DeviceInfo) DeviceInfo {
	pick := func(a, b string) string {
		if a != "" && a != Unknown {
			return a
		}
		return b
	}
	return DeviceInfo{
		IP:               pick(d.IP, other.IP),
		MAC:              pick(d.MAC, other.MAC),
		OS:               pick(d.OS, other.OS),
		OSVersion:        pick(d.OSVersion, other.OSVersion),
		Hostname:         pick(d.Hostname, other.Hostname),
		ScreenResolution: pick(d.ScreenResolution, other.ScreenResolution),
	}
}

// WithDefaults replaces empty fields with Unknown
func (d DeviceInfo) WithDefaults() DeviceInfo {
	return d.Merge(DeviceInfo{
		IP:               Unknown,
		MAC:              Unknown,
		OS:               Unknown,
		OSVersion:        Unknown,
		Hostname:         Unknown,
		ScreenResolution: Unknown,
	})
}
