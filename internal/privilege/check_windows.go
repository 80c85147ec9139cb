//go:build windows

package privilege

import "golang.org/x/sys/windows"

const adminWord = "as administrator"

// IsElevated returns true if the process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
