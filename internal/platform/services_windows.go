//go:build windows

package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

const servicesKey = `SYSTEM\CurrentControlSet\Services\`

type win32Service struct {
	Name        string
	DisplayName string
	State       string
}

type windowsServices struct{}

func newServicePort() ServicePort { return windowsServices{} }

func (windowsServices) ListServices(ctx context.Context) ([]ServiceEntry, error) {
	var rows []win32Service
	if err := wmi.Query("SELECT Name, DisplayName, State FROM Win32_Service", &rows); err != nil {
		return nil, fmt.Errorf("query Win32_Service: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]ServiceEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, ServiceEntry{
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Status:      inventory.ParseServiceStatus(r.State),
		})
	}
	return entries, nil
}

func (windowsServices) ServiceStatus(_ context.Context, name string) (inventory.ServiceStatus, error) {
	var status inventory.ServiceStatus
	err := withService(name, func(s *mgr.Service) error {
		st, err := s.Query()
		if err != nil {
			return fmt.Errorf("query service %s: %w", name, err)
		}
		status = stateToStatus(st.State)
		return nil
	})
	return status, err
}

func (windowsServices) StartService(ctx context.Context, name string) error {
	return withService(name, func(s *mgr.Service) error {
		st, err := s.Query()
		if err != nil {
			return fmt.Errorf("query service %s: %w", name, err)
		}
		if st.State == svc.Running {
			return nil
		}
		if st.State != svc.StartPending {
			if err := s.Start(); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
				return fmt.Errorf("start service %s: %w", name, err)
			}
		}
		return waitForServiceState(ctx, s, svc.Running)
	})
}

func (windowsServices) StopService(ctx context.Context, name string) error {
	return withService(name, func(s *mgr.Service) error {
		st, err := s.Query()
		if err != nil {
			return fmt.Errorf("query service %s: %w", name, err)
		}
		if st.State == svc.Stopped {
			return nil
		}
		if st.State != svc.StopPending {
			st, err = s.Control(svc.Stop)
			if err != nil {
				if errors.Is(err, windows.ERROR_SERVICE_NOT_ACTIVE) {
					return nil
				}
				return fmt.Errorf("stop service %s: %w", name, err)
			}
			if st.State == svc.Stopped {
				return nil
			}
		}
		return waitForServiceState(ctx, s, svc.Stopped)
	})
}

// ReadServiceConfig reads the service's registry key. Missing values are
// left at their zero value; only a missing key is an error.
func (windowsServices) ReadServiceConfig(name string) (ServiceConfig, error) {
	cfg := ServiceConfig{StartCode: -1}

	k, err := registry.OpenKey(registry.LOCAL_MACHINE, servicesKey+name, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return cfg, fmt.Errorf("service %s: %w", name, ErrNotFound)
		}
		return cfg, fmt.Errorf("open service key %s: %w", name, err)
	}
	defer k.Close()

	if start, _, err := k.GetIntegerValue("Start"); err == nil {
		cfg.StartCode = int(start)
	}
	if desc, err := k.GetMUIStringValue("Description"); err == nil {
		cfg.Description = desc
	} else if desc, _, err := k.GetStringValue("Description"); err == nil {
		cfg.Description = desc
	}
	if image, _, err := k.GetStringValue("ImagePath"); err == nil {
		cfg.ImagePath = image
	}
	return cfg, nil
}

func withService(name string, fn func(s *mgr.Service) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return fmt.Errorf("service %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("open service %s: %w", name, err)
	}
	defer s.Close()

	return fn(s)
}

func waitForServiceState(ctx context.Context, s *mgr.Service, desired svc.State) error {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()
	for {
		st, err := s.Query()
		if err != nil {
			return err
		}
		if st.State == desired {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service %s: %w", s.Name, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func stateToStatus(state svc.State) inventory.ServiceStatus {
	switch state {
	case svc.Running:
		return inventory.ServiceRunning
	case svc.Stopped:
		return inventory.ServiceStopped
	case svc.Paused:
		return inventory.ServicePaused
	default:
		return inventory.ServiceOther
	}
}
