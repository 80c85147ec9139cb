//go:build !windows

package platform

import "context"

// Top-level window titles are a desktop-session concept this port only
// reads on Windows.
func windowTitles(context.Context) (map[int32]string, error) {
	return map[int32]string{}, nil
}
