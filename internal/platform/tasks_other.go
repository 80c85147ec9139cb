//go:build !windows

package platform

import "context"

type unsupportedTasks struct{}

func newTaskPort() TaskPort { return unsupportedTasks{} }

func (unsupportedTasks) ListTasks(context.Context, string) ([]TaskEntry, error) {
	return nil, ErrUnsupported
}

func (unsupportedTasks) GetTask(context.Context, string) (TaskEntry, error) {
	return TaskEntry{}, ErrUnsupported
}

func (unsupportedTasks) RunTask(context.Context, string) error               { return ErrUnsupported }
func (unsupportedTasks) StopTask(context.Context, string) error              { return ErrUnsupported }
func (unsupportedTasks) SetTaskEnabled(context.Context, string, bool) error  { return ErrUnsupported }
func (unsupportedTasks) DeleteTask(context.Context, string) error            { return ErrUnsupported }
func (unsupportedTasks) TaskExecutablePath(context.Context, string) (string, error) {
	return "", ErrUnsupported
}
