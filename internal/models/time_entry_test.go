package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationAt(t *testing.T) {
	start := MillisTime(1_000)
	active := &TimeEntry{StartTime: start, IsActive: true}

	assert.Equal(t, int64(0), active.DurationAt(start))
	assert.Equal(t, int64(4_000), active.DurationAt(MillisTime(5_000)))
	assert.Equal(t, int64(0), active.DurationAt(MillisTime(500)), "clock skew never yields negative durations")

	end := MillisTime(9_000)
	stopped := &TimeEntry{StartTime: start, EndTime: &end, Duration: 8_000}
	assert.Equal(t, int64(8_000), stopped.DurationAt(MillisTime(99_000)))
}

func TestCloneIsDeep(t *testing.T) {
	desc := "coding"
	end := MillisTime(2_000)
	orig := &TimeEntry{ID: "a", Description: &desc, EndTime: &end, Screenshots: []string{"s1"}}

	c := orig.Clone()
	*c.Description = "changed"
	c.Screenshots[0] = "s2"
	*c.EndTime = MillisTime(3_000)

	assert.Equal(t, "coding", *orig.Description)
	assert.Equal(t, "s1", orig.Screenshots[0])
	assert.Equal(t, int64(2_000), orig.EndTime.UnixMilli())
	assert.Nil(t, (*TimeEntry)(nil).Clone())
	assert.NotNil(t, (&TimeEntry{}).Clone().Screenshots)
}

func TestTruncateMillis(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 123_456_789, time.UTC)
	assert.Equal(t, 123_000_000, TruncateMillis(ts).Nanosecond())
}

func TestDeviceInfoDefaults(t *testing.T) {
	d := DeviceInfo{OS: "linux", IP: Unknown}.Merge(DeviceInfo{IP: "10.0.0.2", OS: "darwin"}).WithDefaults()

	assert.Equal(t, "linux", d.OS)
	assert.Equal(t, "10.0.0.2", d.IP)
	assert.Equal(t, Unknown, d.MAC)
	assert.Equal(t, Unknown, d.ScreenResolution)
}
