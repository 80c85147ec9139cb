//go:build !windows && !linux

package platform

import (
	"context"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

type unsupportedServices struct{}

func newServicePort() ServicePort { return unsupportedServices{} }

func (unsupportedServices) ListServices(context.Context) ([]ServiceEntry, error) {
	return nil, ErrUnsupported
}

func (unsupportedServices) ServiceStatus(context.Context, string) (inventory.ServiceStatus, error) {
	return inventory.ServiceOther, ErrUnsupported
}

func (unsupportedServices) StartService(context.Context, string) error { return ErrUnsupported }
func (unsupportedServices) StopService(context.Context, string) error  { return ErrUnsupported }

func (unsupportedServices) ReadServiceConfig(string) (ServiceConfig, error) {
	return ServiceConfig{StartCode: -1}, ErrUnsupported
}
