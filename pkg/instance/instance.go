package instance

import (
	"os"

	"github.com/angelmondragon/formpay/pkg/env"
)

// GetID identifies this process in logs. FORMPAY_WORKER_ID wins, then the
// platform dyno name, then the hostname.
func GetID() string {
	if id := env.First("", "FORMPAY_WORKER_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
