// Package collectors enumerates one inventory category per collector and
// returns it as an ordered, de-duplicated snapshot.
package collectors

import (
	"context"
	"fmt"

	"github.com/breeze-rmm/sysmgr/internal/inventory"
	"github.com/breeze-rmm/sysmgr/internal/logging"
)

var log = logging.L("collectors")

// EnumerationError is a failed listing of a whole category. The category's
// previous snapshot stays in place.
type EnumerationError struct {
	Category inventory.Category
	Err      error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("error loading %s: %v", e.Category, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

func enumerationFailed(c inventory.Category, err error) error {
	return &EnumerationError{Category: c, Err: err}
}

// finish orders and de-duplicates a pass.
func finish[T inventory.Record](ctx context.Context, c inventory.Category, records []T) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, enumerationFailed(c, err)
	}
	snapshot, dropped := inventory.NewSnapshot(records)
	if dropped > 0 {
		log.Warn("dropped duplicate records", logging.KeyCategory, string(c), "count", dropped)
	}
	return snapshot, nil
}
