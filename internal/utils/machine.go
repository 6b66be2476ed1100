package utils

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// MachineID returns an app-scoped hash of the host's machine id, falling back
// to the hostname where no machine id is available (containers).
func MachineID(appID string) string {
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
