package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

type folderOpener struct{}

// folderCommand is the file browser launcher per OS.
func folderCommand(goos, dir string) (string, []string) {
	switch goos {
	case "windows":
		return "explorer.exe", []string{dir}
	case "darwin":
		return "open", []string{dir}
	default:
		return "xdg-open", []string{dir}
	}
}

func (folderOpener) OpenFolder(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("folder %s: %w", dir, ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	name, args := folderCommand(runtime.GOOS, dir)
	// Not bound to ctx: the browser outlives the request.
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}
	// explorer.exe exits non-zero even on success, so only the launch is checked.
	go func() { _ = cmd.Wait() }()
	log.Debug("opened folder", "dir", dir, "launcher", name)
	return nil
}
