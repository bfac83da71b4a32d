package session

import (
	"os"
	"runtime"
	"time"

	"github.com/kozaktomas/face-guard/internal/database"
	"github.com/kozaktomas/face-guard/internal/geometry"
)

// Snapshot captures the device context recorded with a new session.
func Snapshot(userAgent string, viewport geometry.Size) database.DeviceInfo {
	hostname, _ := os.Hostname()
	return database.DeviceInfo{
		UserAgent: userAgent,
		Hostname:  hostname,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Timestamp: time.Now().UTC(),
		Viewport:  viewport,
	}
}
