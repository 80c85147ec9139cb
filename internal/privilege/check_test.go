package privilege

import (
	"strings"
	"testing"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

func TestRequiresElevation(t *testing.T) {
	tests := []struct {
		category inventory.Category
		action   batch.Action
		want     bool
	}{
		{inventory.Services, batch.Restart, true},
		{inventory.Tasks, batch.Delete, true},
		{inventory.Tasks, batch.Run, true},
		{inventory.Processes, batch.Terminate, false},
		{inventory.Processes, batch.Start, false},
	}
	for _, tt := range tests {
		if got := RequiresElevation(tt.category, tt.action); got != tt.want {
			t.Errorf("RequiresElevation(%s, %s) = %v, want %v", tt.category, tt.action, got, tt.want)
		}
	}
}

func TestWarning(t *testing.T) {
	if w := Warning(inventory.Services, batch.Stop, true); w != "" {
		t.Fatalf("elevated process got warning %q", w)
	}
	if w := Warning(inventory.Processes, batch.Terminate, false); w != "" {
		t.Fatalf("terminate got warning %q", w)
	}
	w := Warning(inventory.Services, batch.Stop, false)
	if !strings.Contains(w, "stop on services will probably be denied") {
		t.Fatalf("unexpected warning %q", w)
	}
}
