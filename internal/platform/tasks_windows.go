//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

const (
	taskEnumHidden  = 1
	taskActionExec  = 0
	hrFileNotFound  = 0x80070002
	hrPathNotFound  = 0x80070003
	hrAlreadyInited = 0x00000001 // S_FALSE
)

type schedulerTasks struct{}

func newTaskPort() TaskPort { return schedulerTasks{} }

// withScheduler connects to the Task Scheduler service on a locked,
// COM-initialised thread and hands fn its root folder.
func withScheduler(fn func(root *ole.IDispatch) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != hrAlreadyInited {
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject("Schedule.Service")
	if err != nil {
		return fmt.Errorf("failed to create scheduler object: %w", err)
	}
	defer unknown.Release()

	service, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("failed to query scheduler object: %w", err)
	}
	defer service.Release()

	if _, err := oleutil.CallMethod(service, "Connect", "", "", "", ""); err != nil {
		return fmt.Errorf("failed to connect to task scheduler: %w", err)
	}

	root, err := callDispatch(service, "GetFolder", `\`)
	if err != nil {
		return fmt.Errorf("failed to open root task folder: %w", err)
	}
	defer root.Release()

	return fn(root)
}

func (schedulerTasks) ListTasks(ctx context.Context, rootFolder string) ([]TaskEntry, error) {
	if rootFolder == "" {
		rootFolder = `\`
	}
	var entries []TaskEntry
	err := withScheduler(func(root *ole.IDispatch) error {
		folder := root
		if rootFolder != `\` {
			f, err := callDispatch(root, "GetFolder", rootFolder)
			if err != nil {
				return fmt.Errorf("open task folder %s: %w", rootFolder, notFound(err))
			}
			defer f.Release()
			folder = f
		}
		return walkFolder(ctx, folder, &entries)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// walkFolder appends every task in folder and, recursively, its subfolders.
func walkFolder(ctx context.Context, folder *ole.IDispatch, out *[]TaskEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	folderPath := stringProp(folder, "Path")

	tasks, err := callDispatch(folder, "GetTasks", taskEnumHidden)
	if err != nil {
		return fmt.Errorf("enumerate tasks in %s: %w", folderPath, err)
	}
	err = eachItem(tasks, func(task *ole.IDispatch) error {
		*out = append(*out, readTask(task))
		return nil
	})
	tasks.Release()
	if err != nil {
		return fmt.Errorf("read tasks in %s: %w", folderPath, err)
	}

	subfolders, err := callDispatch(folder, "GetFolders", 0)
	if err != nil {
		return fmt.Errorf("enumerate folders in %s: %w", folderPath, err)
	}
	defer subfolders.Release()
	return eachItem(subfolders, func(sub *ole.IDispatch) error {
		return walkFolder(ctx, sub, out)
	})
}

func readTask(task *ole.IDispatch) TaskEntry {
	entry := TaskEntry{
		Path:    stringProp(task, "Path"),
		Name:    stringProp(task, "Name"),
		State:   intProp(task, "State"),
		LastRun: timeProp(task, "LastRunTime"),
		NextRun: timeProp(task, "NextRunTime"),
	}
	if def, err := getDispatch(task, "Definition"); err == nil {
		if reg, err := getDispatch(def, "RegistrationInfo"); err == nil {
			entry.Author = stringProp(reg, "Author")
			reg.Release()
		}
		def.Release()
	}
	return entry
}

func (schedulerTasks) GetTask(_ context.Context, path string) (TaskEntry, error) {
	var entry TaskEntry
	err := withTask(path, func(_, task *ole.IDispatch) error {
		entry = readTask(task)
		return nil
	})
	return entry, err
}

func (schedulerTasks) RunTask(_ context.Context, path string) error {
	return withTask(path, func(_, task *ole.IDispatch) error {
		if _, err := oleutil.CallMethod(task, "Run", nil); err != nil {
			return fmt.Errorf("run task %s: %w", path, err)
		}
		return nil
	})
}

func (schedulerTasks) StopTask(_ context.Context, path string) error {
	return withTask(path, func(_, task *ole.IDispatch) error {
		if _, err := oleutil.CallMethod(task, "Stop", 0); err != nil {
			return fmt.Errorf("stop task %s: %w", path, err)
		}
		return nil
	})
}

func (schedulerTasks) SetTaskEnabled(_ context.Context, path string, enabled bool) error {
	return withTask(path, func(_, task *ole.IDispatch) error {
		if _, err := oleutil.PutProperty(task, "Enabled", enabled); err != nil {
			return fmt.Errorf("set enabled=%t on task %s: %w", enabled, path, err)
		}
		return nil
	})
}

func (schedulerTasks) DeleteTask(_ context.Context, path string) error {
	return withTask(path, func(root, _ *ole.IDispatch) error {
		dir, name := splitTaskPath(path)
		folder := root
		if dir != `\` {
			f, err := callDispatch(root, "GetFolder", dir)
			if err != nil {
				return fmt.Errorf("open task folder %s: %w", dir, notFound(err))
			}
			defer f.Release()
			folder = f
		}
		if _, err := oleutil.CallMethod(folder, "DeleteTask", name, 0); err != nil {
			return fmt.Errorf("delete task %s: %w", path, notFound(err))
		}
		return nil
	})
}

func (schedulerTasks) TaskExecutablePath(_ context.Context, path string) (string, error) {
	var exe string
	err := withTask(path, func(_, task *ole.IDispatch) error {
		def, err := getDispatch(task, "Definition")
		if err != nil {
			return fmt.Errorf("read definition of %s: %w", path, err)
		}
		defer def.Release()
		actions, err := getDispatch(def, "Actions")
		if err != nil {
			return fmt.Errorf("read actions of %s: %w", path, err)
		}
		defer actions.Release()

		errFound := errors.New("found")
		err = eachItem(actions, func(action *ole.IDispatch) error {
			if intProp(action, "Type") != taskActionExec {
				return nil
			}
			exe = stringProp(action, "Path")
			return errFound
		})
		if err != nil && !errors.Is(err, errFound) {
			return err
		}
		return nil
	})
	return exe, err
}

// withTask resolves path against the root folder. A task that no longer
// exists yields ErrNotFound.
func withTask(path string, fn func(root, task *ole.IDispatch) error) error {
	return withScheduler(func(root *ole.IDispatch) error {
		task, err := callDispatch(root, "GetTask", path)
		if err != nil {
			return fmt.Errorf("task %s: %w", path, notFound(err))
		}
		defer task.Release()
		return fn(root, task)
	})
}

func splitTaskPath(path string) (dir, name string) {
	i := strings.LastIndex(path, `\`)
	if i <= 0 {
		return `\`, strings.TrimPrefix(path, `\`)
	}
	return path[:i], path[i+1:]
}

// notFound maps the scheduler's file-not-found HRESULTs onto ErrNotFound.
func notFound(err error) error {
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		switch uint32(oleErr.Code()) {
		case hrFileNotFound, hrPathNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

// eachItem visits a 1-based COM collection.
func eachItem(collection *ole.IDispatch, fn func(item *ole.IDispatch) error) error {
	count := intProp(collection, "Count")
	for i := 1; i <= count; i++ {
		itemVar, err := oleutil.CallMethod(collection, "Item", i)
		if err != nil {
			log.Debug("skipping unreadable collection item", "index", i, "error", err.Error())
			continue
		}
		item := itemVar.ToIDispatch()
		if item == nil {
			continue
		}
		err = fn(item)
		item.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func callDispatch(obj *ole.IDispatch, method string, params ...any) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(obj, method, params...)
	if err != nil {
		return nil, err
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, fmt.Errorf("%s returned no object", method)
	}
	return d, nil
}

func getDispatch(obj *ole.IDispatch, name string) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return nil, err
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, fmt.Errorf("%s is empty", name)
	}
	return d, nil
}

func stringProp(obj *ole.IDispatch, name string) string {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return ""
	}
	defer v.Clear()
	return v.ToString()
}

func intProp(obj *ole.IDispatch, name string) int {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return 0
	}
	defer v.Clear()
	return int(v.Val)
}

// timeProp reads a DATE property. The scheduler reports "never" as dates
// at or before 1899-12-30 or as 1999-11-30.
func timeProp(obj *ole.IDispatch, name string) time.Time {
	v, err := oleutil.GetProperty(obj, name)
	if err != nil {
		return time.Time{}
	}
	defer v.Clear()
	t, ok := v.Value().(time.Time)
	if !ok || t.Year() < 1900 || (t.Year() == 1999 && t.Month() == time.November && t.Day() == 30) {
		return time.Time{}
	}
	return t
}
