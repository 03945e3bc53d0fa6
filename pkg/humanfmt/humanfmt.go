// Package humanfmt formats sizes, durations and rates for log lines.
package humanfmt

import (
	"fmt"
	"strconv"
	"time"
)

// IEC byte units.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
	TiB = 1 << 40
)

var byteUnits = []struct {
	size float64
	name string
}{
	{TiB, "TiB"},
	{GiB, "GiB"},
	{MiB, "MiB"},
	{KiB, "KiB"},
}

var countUnits = []struct {
	size float64
	name string
}{
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

func scaleBytes(v float64) string {
	for _, u := range byteUnits {
		if v >= u.size {
			return fmt.Sprintf("%.2f %s", v/u.size, u.name)
		}
	}
	return fmt.Sprintf("%.0f B", v)
}

func scaleCount(v float64) string {
	for _, u := range countUnits {
		if v >= u.size {
			return fmt.Sprintf("%.2f%s", v/u.size, u.name)
		}
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Bytes formats a byte count, e.g. "1.50 MiB".
func Bytes(b int64) string {
	if b < 0 {
		return fmt.Sprintf("%d B", b)
	}
	return scaleBytes(float64(b))
}

// Count formats an item count, e.g. "1.23M".
func Count(n int64) string {
	if n < 1000 {
		return strconv.FormatInt(n, 10)
	}
	return scaleCount(float64(n))
}

// Duration formats d compactly: "1.23s", "45.6ms", "1m30s", "2h15m".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d >= time.Hour:
		return compound(d/time.Hour, "h", (d%time.Hour)/time.Minute, "m")
	case d >= time.Minute:
		return compound(d/time.Minute, "m", (d%time.Minute)/time.Second, "s")
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

func compound(major time.Duration, majorUnit string, minor time.Duration, minorUnit string) string {
	if minor == 0 {
		return fmt.Sprintf("%d%s", major, majorUnit)
	}
	return fmt.Sprintf("%d%s%d%s", major, majorUnit, minor, minorUnit)
}

// Rate formats n items over d as items per second, e.g. "12.50K/s".
func Rate(n int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	perSec := float64(n) / d.Seconds()
	if perSec < 1000 {
		return fmt.Sprintf("%.1f/s", perSec)
	}
	return scaleCount(perSec) + "/s"
}

// Throughput formats b bytes over d as bytes per second, e.g. "12.00 MiB/s".
func Throughput(b int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	return scaleBytes(float64(b)/d.Seconds()) + "/s"
}
