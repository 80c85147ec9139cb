//go:build linux

package platform

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

type systemdServices struct{}

func newServicePort() ServicePort { return systemdServices{} }

func (systemdServices) ListServices(ctx context.Context) ([]ServiceEntry, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "list-units", "--type=service", "--all",
		"--no-pager", "--plain", "--no-legend").Output()
	if err != nil {
		return nil, fmt.Errorf("systemctl list-units: %w", err)
	}
	return parseUnitList(string(out)), nil
}

// parseUnitList reads "UNIT LOAD ACTIVE SUB DESCRIPTION..." rows.
func parseUnitList(output string) []ServiceEntry {
	var entries []ServiceEntry
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ".service") {
			continue
		}
		name := strings.TrimSuffix(fields[0], ".service")
		display := name
		if len(fields) > 4 {
			display = strings.Join(fields[4:], " ")
		}
		entries = append(entries, ServiceEntry{
			Name:        name,
			DisplayName: display,
			Status:      unitStatus(fields[2], fields[3]),
		})
	}
	return entries
}

// unitStatus maps systemd ACTIVE/SUB states for both the listing and the
// status poll, so a unit never reads differently in the two. An active
// unit is Running whatever its sub-state, which covers oneshot units that
// have exited but remain active.
func unitStatus(active, sub string) inventory.ServiceStatus {
	switch active {
	case "active":
		if strings.HasPrefix(sub, "reload") {
			return inventory.ServiceOther
		}
		return inventory.ServiceRunning
	case "inactive", "failed":
		return inventory.ServiceStopped
	}
	return inventory.ServiceOther
}

func (systemdServices) ServiceStatus(ctx context.Context, name string) (inventory.ServiceStatus, error) {
	props, err := showUnit(ctx, name, "LoadState", "ActiveState", "SubState")
	if err != nil {
		return inventory.ServiceOther, err
	}
	if props["LoadState"] == "not-found" {
		return inventory.ServiceOther, fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	return unitStatus(props["ActiveState"], props["SubState"]), nil
}

func (p systemdServices) StartService(ctx context.Context, name string) error {
	return p.control(ctx, name, "start", inventory.ServiceRunning)
}

func (p systemdServices) StopService(ctx context.Context, name string) error {
	return p.control(ctx, name, "stop", inventory.ServiceStopped)
}

func (p systemdServices) control(ctx context.Context, name, verb string, target inventory.ServiceStatus) error {
	current, err := p.ServiceStatus(ctx, name)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}
	if out, err := exec.CommandContext(ctx, "systemctl", verb, "--no-block", name+".service").CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("service %s: %w", name, ErrTimeout)
		}
		return fmt.Errorf("systemctl %s %s: %s: %w", verb, name, strings.TrimSpace(string(out)), err)
	}

	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()
	for {
		st, err := p.ServiceStatus(ctx, name)
		if err == nil && st == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service %s: %w", name, ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (systemdServices) ReadServiceConfig(name string) (ServiceConfig, error) {
	cfg := ServiceConfig{StartCode: -1}
	props, err := showUnit(context.Background(), name, "LoadState", "Description", "ExecStart", "UnitFileState")
	if err != nil {
		return cfg, err
	}
	if props["LoadState"] == "not-found" {
		return cfg, fmt.Errorf("service %s: %w", name, ErrNotFound)
	}
	cfg.Description = props["Description"]
	cfg.ImagePath = execStartPath(props["ExecStart"])
	cfg.StartCode = unitFileStateCode(props["UnitFileState"])
	return cfg, nil
}

// unitFileStateCode maps systemd enablement onto the 0-4 start scale.
func unitFileStateCode(state string) int {
	switch state {
	case "enabled", "enabled-runtime", "alias":
		return 2
	case "static", "indirect", "generated", "linked", "linked-runtime":
		return 3
	case "disabled", "masked", "masked-runtime":
		return 4
	}
	return -1
}

// execStartPath pulls path= out of "{ path=/usr/sbin/cron ; argv[]=... }".
func execStartPath(execStart string) string {
	for _, part := range strings.Split(execStart, ";") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "{"))
		if v, ok := strings.CutPrefix(part, "path="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func showUnit(ctx context.Context, name string, props ...string) (map[string]string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "show", name+".service",
		"--property="+strings.Join(props, ",")).Output()
	if err != nil {
		return nil, fmt.Errorf("systemctl show %s: %w", name, err)
	}
	return parseSystemctlProperties(string(out)), nil
}

func parseSystemctlProperties(output string) map[string]string {
	props := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if k, v, ok := strings.Cut(scanner.Text(), "="); ok {
			props[k] = v
		}
	}
	return props
}
