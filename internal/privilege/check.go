// Package privilege tells the operator when a batch is likely to fail for
// lack of administrator rights.
package privilege

import (
	"fmt"

	"github.com/breeze-rmm/sysmgr/internal/batch"
	"github.com/breeze-rmm/sysmgr/internal/inventory"
)

// elevatedActions lists the category actions the OS refuses to ordinary
// users. Ending a process the user owns does not need elevation.
var elevatedActions = map[inventory.Category]map[batch.Action]bool{
	inventory.Services: {
		batch.Start:   true,
		batch.Stop:    true,
		batch.Restart: true,
	},
	inventory.Tasks: {
		batch.Run:     true,
		batch.Stop:    true,
		batch.Enable:  true,
		batch.Disable: true,
		batch.Delete:  true,
	},
}

// RequiresElevation reports whether action on category needs root or admin
// rights.
func RequiresElevation(c inventory.Category, a batch.Action) bool {
	return elevatedActions[c][a]
}

// Warning returns the message shown before running action without
// elevation, or "" when none is needed.
func Warning(c inventory.Category, a batch.Action, elevated bool) string {
	if elevated || !RequiresElevation(c, a) {
		return ""
	}
	return fmt.Sprintf("not running %s; %s on %s will probably be denied", adminWord, a, c)
}
