//go:build windows

package platform

import (
	"context"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	// Callbacks are a finite resource; one is shared by every enumeration.
	enumWindowsCallback = windows.NewCallback(enumWindowsProc)
	enumMu              sync.Mutex
	enumTitles          map[int32]string
)

func enumWindowsProc(hwnd windows.HWND, _ uintptr) uintptr {
	if !windows.IsWindowVisible(hwnd) {
		return 1
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil || pid == 0 {
		return 1
	}
	if _, seen := enumTitles[int32(pid)]; seen {
		return 1
	}
	buf := make([]uint16, 512)
	n, err := windows.GetWindowText(hwnd, &buf[0], int32(len(buf)))
	if err != nil || n == 0 {
		return 1
	}
	enumTitles[int32(pid)] = windows.UTF16ToString(buf[:n])
	return 1
}

// windowTitles returns the first visible titled top-level window per pid.
func windowTitles(_ context.Context) (map[int32]string, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumTitles = make(map[int32]string)
	err := windows.EnumWindows(enumWindowsCallback, unsafe.Pointer(nil))
	titles := enumTitles
	enumTitles = nil
	if err != nil {
		return titles, err
	}
	return titles, nil
}
