//go:build !windows

package privilege

import "os"

const adminWord = "as root"

// IsElevated returns true if the process runs with effective UID 0.
func IsElevated() bool {
	return os.Geteuid() == 0
}
